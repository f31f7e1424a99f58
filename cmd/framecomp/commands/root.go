package commands

import (
	"fmt"
	"os"

	"github.com/bryanchriswhite/framecompositor/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "framecomp",
		Short: "framecomp - frame-accurate video compositor",
		Long: `framecomp renders one output frame per composition request from a set of
source tracks, runs it through an effect chain and burns in overlay widgets.

Features:
  • Ordered, cancellable composition requests on a single render worker
  • Source tracks: test pattern, image sequences, solid colours, X11 screen
  • Effect chain (grayscale, sepia, invert, blur, edge, manga, echo)
  • Overlay widgets (text, timecode)
  • MJPEG stream, PNG sequence and X11 preview outputs
  • REST API and websocket event stream
  • Persistent configuration with live reload`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/framecompositor/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("pretty", true, "human-readable console logs")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("pretty", rootCmd.PersistentFlags().Lookup("pretty"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	viper.SetEnvPrefix("framecomp")
	viper.AutomaticEnv()

	level := viper.GetString("log_level")
	if level == "" {
		level = "info"
	}
	logger.Init(level, viper.GetBool("pretty"))
}

// applyLogLevel re-initializes logging from the config unless a flag or
// environment variable already chose the level
func applyLogLevel(configured string) {
	if viper.GetString("log_level") != "" || configured == "" {
		return
	}
	logger.Init(configured, viper.GetBool("pretty"))
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}
