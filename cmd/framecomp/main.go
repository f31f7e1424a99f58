package main

import "github.com/bryanchriswhite/framecompositor/cmd/framecomp/commands"

func main() {
	commands.Execute()
}
