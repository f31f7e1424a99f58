package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/framecompositor/internal/api"
	"github.com/bryanchriswhite/framecompositor/internal/config"
	"github.com/bryanchriswhite/framecompositor/internal/logger"
	"github.com/bryanchriswhite/framecompositor/internal/output"
	"github.com/bryanchriswhite/framecompositor/internal/playback"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the compositor server",
	Long: `Start real-time playback with the HTTP API.

Frames are requested at the configured frame rate, composited from the first
configured track and streamed as MJPEG. Edits to the config file are applied
while running.`,
	Example: `  # Start server on default port (8080)
  framecomp serve

  # Start server on custom port
  framecomp serve --port 9090

  # Also open a local preview window
  framecomp serve --preview

  # Start with debug logging
  framecomp serve --log-level debug`,
	RunE: runServe,
}

var servePreview bool

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&servePreview, "preview", false, "show frames in an X11 window")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("playback")

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}

	// Override port from flag if provided
	if viper.IsSet("server_port") {
		if port := viper.GetInt("server_port"); port > 0 {
			if err := configMgr.SetPort(port); err != nil {
				return fmt.Errorf("failed to set port: %w", err)
			}
		}
	}

	cfg := configMgr.Get()
	applyLogLevel(cfg.LogLevel)
	log.Info().
		Str("path", configMgr.GetConfigPath()).
		Str("log_level", cfg.LogLevel).
		Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.close()

	stream := output.NewMJPEGOutput(output.Config{
		Width:   cfg.Output.Width,
		Height:  cfg.Output.Height,
		FPS:     cfg.Output.FPS,
		Quality: cfg.Output.Quality,
	})
	outputs := []output.Output{stream}

	if servePreview || cfg.Preview.Enabled {
		outputs = append(outputs, output.NewX11Preview(cfg.Output.Width, cfg.Output.Height, "framecomp preview"))
	}

	for _, out := range outputs {
		if err := out.Start(); err != nil {
			// The preview is optional; a headless host keeps streaming
			log.Warn().Err(err).Str("output", out.Name()).Msg("Output not available")
			continue
		}
		defer out.Stop()
	}

	engine, err := playback.New(p.comp, playback.Options{
		FPS:    cfg.Output.FPS,
		Tracks: trackIDs(cfg.Tracks),
	}, outputs...)
	if err != nil {
		return err
	}

	if err := configMgr.Watch(ctx, func(next *config.Config) {
		p.apply(next, engine)
	}); err != nil {
		log.Warn().Err(err).Msg("Config changes will need a restart")
	}

	server := api.NewServer(api.Deps{
		Compositor: p.comp,
		Engine:     engine,
		Sources:    p.sources,
		Renderer:   p.renderer,
		Overlays:   p.overlays,
		ConfigMgr:  configMgr,
		Stream:     stream,
	})

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start(cfg.ServerPort)
	}()

	playErr := make(chan error, 1)
	go func() {
		playErr <- engine.Run(ctx)
	}()

	log.Info().
		Int("port", cfg.ServerPort).
		Msgf("framecomp is running: viewer http://localhost:%d, API http://localhost:%d/api", cfg.ServerPort, cfg.ServerPort)

	playing := true
	select {
	case <-ctx.Done():
	case err = <-serveErr:
	case err = <-playErr:
		playing = false
	}
	stop()

	log.Info().Msg("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Stop the stream first so open MJPEG connections end
	stream.Stop()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Warn().Err(shutdownErr).Msg("Server shutdown incomplete")
	}
	if playing {
		<-playErr
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
