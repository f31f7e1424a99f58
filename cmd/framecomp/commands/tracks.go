package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/bryanchriswhite/framecompositor/internal/config"
	"github.com/bryanchriswhite/framecompositor/internal/filter"
	"github.com/bryanchriswhite/framecompositor/internal/source"
	"github.com/spf13/cobra"
)

var tracksCmd = &cobra.Command{
	Use:   "tracks",
	Short: "Manage source tracks",
	Long: `List, add and remove the source tracks in the configuration.

The first track listed is the one composited into the output.`,
}

var tracksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured tracks",
	Example: `  # List tracks in table format (default)
  framecomp tracks list

  # List tracks in JSON format
  framecomp tracks list --format json`,
	RunE: runTracksList,
}

var tracksAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add or replace a track",
	Example: `  # Add an image sequence at 24 fps
  framecomp tracks add --id 2 --type images --path ./frames --fps 24

  # Add a solid colour track
  framecomp tracks add --id 3 --type solid --color '#336699'`,
	RunE: runTracksAdd,
}

var tracksRemoveCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Remove a track",
	Args:  cobra.ExactArgs(1),
	RunE:  runTracksRemove,
}

var effectsCmd = &cobra.Command{
	Use:   "effects",
	Short: "List available effects for filter.chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range filter.Effects() {
			fmt.Println(name)
		}
		return nil
	},
}

var (
	tracksFormat string
	trackFlags   config.TrackConfig
	trackType    string
)

func init() {
	rootCmd.AddCommand(tracksCmd)
	rootCmd.AddCommand(effectsCmd)
	tracksCmd.AddCommand(tracksListCmd)
	tracksCmd.AddCommand(tracksAddCmd)
	tracksCmd.AddCommand(tracksRemoveCmd)

	tracksListCmd.Flags().StringVarP(&tracksFormat, "format", "f", "table", "output format (table or json)")

	tracksAddCmd.Flags().Int32Var(&trackFlags.ID, "id", 0, "track ID")
	tracksAddCmd.Flags().StringVar(&trackType, "type", "", "track type (pattern, images, solid, screen)")
	tracksAddCmd.Flags().StringVar(&trackFlags.Name, "name", "", "display name")
	tracksAddCmd.Flags().StringVar(&trackFlags.Path, "path", "", "image directory (images tracks)")
	tracksAddCmd.Flags().IntVar(&trackFlags.FPS, "fps", 0, "frame rate of the image sequence")
	tracksAddCmd.Flags().StringVar(&trackFlags.Color, "color", "", "colour as #rrggbb[aa] (solid tracks)")
	tracksAddCmd.MarkFlagRequired("id")
	tracksAddCmd.MarkFlagRequired("type")
}

func runTracksList(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	tracks := configMgr.Get().Tracks

	switch tracksFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(tracks)
	case "table":
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tNAME\tDETAIL")
		for _, t := range tracks {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", t.ID, t.Type, t.Name, trackDetail(t))
		}
		return w.Flush()
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", tracksFormat)
	}
}

func trackDetail(t config.TrackConfig) string {
	switch t.Type {
	case config.TrackTypeImages:
		return fmt.Sprintf("%s @ %d fps", t.Path, t.FPS)
	case config.TrackTypeSolid:
		return t.Color
	default:
		return ""
	}
}

func runTracksAdd(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	track := trackFlags
	track.Type = config.TrackType(trackType)

	// Build the source once so bad settings fail here and not in the server
	cfg := configMgr.Get()
	if _, err := source.FromConfig(track, cfg.Output.Width, cfg.Output.Height); err != nil {
		return err
	}

	if err := configMgr.AddTrack(track); err != nil {
		return fmt.Errorf("failed to save track: %w", err)
	}

	fmt.Printf("Track %d (%s) saved\n", track.ID, track.Type)
	return nil
}

func runTracksRemove(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid track id: %s", args[0])
	}

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := configMgr.RemoveTrack(int32(id)); err != nil {
		return err
	}

	fmt.Printf("Track %d removed\n", id)
	return nil
}
