package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/framecompositor/internal/config"
	"github.com/bryanchriswhite/framecompositor/internal/logger"
	"github.com/bryanchriswhite/framecompositor/internal/notify"
	"github.com/bryanchriswhite/framecompositor/internal/output"
	"github.com/bryanchriswhite/framecompositor/internal/playback"
	"github.com/spf13/cobra"
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render frames to a PNG sequence",
	Long: `Render a stretch of the timeline as fast as the compositor allows and
write every frame as a numbered PNG file.`,
	Example: `  # Render five seconds into the configured directory
  framecomp render

  # Render 120 frames starting ten seconds in
  framecomp render --frames 120 --start 10s --out ./shots`,
	RunE: runRender,
}

var (
	renderFrames   int
	renderDuration time.Duration
	renderStart    time.Duration
	renderOut      string
	renderNotify   bool
)

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().IntVarP(&renderFrames, "frames", "n", 0, "number of frames (default is duration x fps)")
	renderCmd.Flags().DurationVarP(&renderDuration, "duration", "d", 5*time.Second, "length of the rendered stretch")
	renderCmd.Flags().DurationVar(&renderStart, "start", 0, "timeline position of the first frame")
	renderCmd.Flags().StringVarP(&renderOut, "out", "o", "", "output directory (default is output.directory from the config)")
	renderCmd.Flags().BoolVar(&renderNotify, "notify", false, "post a desktop notification when the render finishes")
}

// frameCount resolves the number of frames to render
func frameCount(frames int, duration time.Duration, fps int) int {
	if frames > 0 {
		return frames
	}
	return int(duration * time.Duration(fps) / time.Second)
}

func runRender(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("playback")

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := configMgr.Get()
	applyLogLevel(cfg.LogLevel)

	frames := frameCount(renderFrames, renderDuration, cfg.Output.FPS)
	if frames <= 0 {
		return fmt.Errorf("nothing to render: %d frames", frames)
	}

	dir := renderOut
	if dir == "" {
		dir = cfg.Output.Directory
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.close()

	seq := output.NewPNGSequence(dir)
	if err := seq.Start(); err != nil {
		return err
	}
	defer seq.Stop()

	engine, err := playback.New(p.comp, playback.Options{
		FPS:    cfg.Output.FPS,
		Tracks: trackIDs(cfg.Tracks),
	}, seq)
	if err != nil {
		return err
	}

	if renderStart > 0 {
		if err := engine.Seek(ctx, renderStart); err != nil {
			return fmt.Errorf("failed to seek: %w", err)
		}
	}

	began := time.Now()
	if err := engine.Render(ctx, frames); err != nil {
		err = fmt.Errorf("render interrupted after %d frames: %w", seq.Frames(), err)
		if renderNotify {
			sendNotification(notify.Message{Summary: "Render failed", Body: err.Error(), Urgency: notify.UrgencyCritical})
		}
		return err
	}

	stats := engine.Stats()
	log.Info().
		Int("frames", seq.Frames()).
		Uint64("substituted", stats.Substituted).
		Dur("took", time.Since(began)).
		Str("dir", seq.Dir()).
		Msg("Render complete")

	fmt.Printf("Rendered %d frames to %s\n", seq.Frames(), seq.Dir())
	if renderNotify {
		sendNotification(notify.Message{
			Summary: "Render complete",
			Body:    fmt.Sprintf("%d frames written to %s", seq.Frames(), seq.Dir()),
			Urgency: notify.UrgencyNormal,
		})
	}
	return nil
}

// sendNotification is best effort; a missing session bus only logs
func sendNotification(msg notify.Message) {
	log := logger.WithComponent("notify")

	n, err := notify.New("framecomp")
	if err != nil {
		log.Warn().Err(err).Msg("Desktop notifications unavailable")
		return
	}
	defer n.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := n.Send(ctx, msg); err != nil {
		log.Warn().Err(err).Msg("Failed to post notification")
	}
}
