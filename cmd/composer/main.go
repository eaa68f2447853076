package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelasi/composer/internal/aigen"
	"github.com/kelasi/composer/internal/api"
	"github.com/kelasi/composer/internal/config"
	"github.com/kelasi/composer/internal/db"
	"github.com/kelasi/composer/internal/engine"
	"github.com/kelasi/composer/internal/export"
	"github.com/kelasi/composer/internal/logging"
	"github.com/kelasi/composer/internal/playback"
	"github.com/kelasi/composer/internal/recording"
	"github.com/kelasi/composer/internal/store"
	"github.com/kelasi/composer/internal/studio"
	"github.com/kelasi/composer/internal/timeline"
	"github.com/kelasi/composer/internal/wav"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	for _, dir := range []string{cfg.DataDir(), cfg.AssetsDir(), cfg.ExportsDir(), cfg.WorkDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting composer", "version", config.Version, "commit", config.GitCommit, "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := store.NewRepository(database.Conn())

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════════════════════╗")
	fmt.Printf("║  COMPOSER v%-62s ║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-43d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-61s ║\n", authToken)
	fmt.Println("╚═══════════════════════════════════════════════════════════════════════════╝")
	fmt.Println()

	engCfg := engine.DefaultConfig(logging.WithComponent(logger, "engine"))
	engCfg.FFmpegPath = cfg.FFmpegPath()
	engCfg.FFprobePath = cfg.FFprobePath()
	engCfg.WorkDir = cfg.WorkDir()
	engCfg.RenderTimeout = cfg.RenderTimeout()
	eng := engine.New(engCfg)

	probeCtx, probeCancel := context.WithTimeout(context.Background(), engCfg.ProbeTimeout)
	if caps, err := eng.Capabilities(probeCtx); err != nil || !caps.Available {
		logger.Warn("ffmpeg unavailable, exports disabled until it is installed", "error", err)
	} else {
		logger.Info("ffmpeg detected", "version", caps.Version, "drawtext", caps.HasDrawtext)
	}
	probeCancel()

	var device recording.Device = recording.UnavailableDevice{Reason: "audio capture disabled by configuration"}
	if cfg.CaptureEnabled() {
		device = recording.FFmpegDevice{
			FFmpegPath:  cfg.FFmpegPath(),
			InputFormat: cfg.CaptureFormat(),
			Input:       cfg.CaptureInput(),
			Format:      wav.DefaultFormat,
			Logger:      logging.WithComponent(logger, "capture"),
		}
	}

	var speaker aigen.Speaker
	if cfg.AIEndpoint() != "" {
		speaker = aigen.NewHTTPClient(cfg.AIEndpoint(), cfg.AIToken(), cfg.AITimeout(), logger)
		logger.Info("speech generation enabled", "endpoint", cfg.AIEndpoint(), "voice", cfg.AIVoice())
	} else {
		logger.Info("speech generation disabled, set COMPOSER_AI_ENDPOINT to enable")
	}

	session := studio.New(studio.Config{
		Timeline:      timelineOptions(cfg),
		FireTolerance: cfg.FireTolerance(),
		AssetsDir:     cfg.AssetsDir(),
		Voice:         cfg.AIVoice(),
		Device:        device,
		Speaker:       speaker,
		Prober:        eng,
		Assets:        repo,
		Export: export.Config{
			Engine:    eng,
			OutputDir: cfg.ExportsDir(),
			Spec:      outputSpec(cfg),
			Title:     cfg.ProjectTitle(),
			FrameRate: cfg.FrameRate(),
			Store:     repo,
		},
		Logger: logger,
	})

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		Session:        session,
		Repository:     repo,
		PlaybackServer: playback.NewServer(logger),
		Engine:         eng,
		Logger:         logger,
		StartTime:      startTime,
		Version:        config.Version,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	// A render still running at this point is marked failed on the next start.
	if task := session.Compositor().Current(); task != nil && task.Status().Active() {
		logger.Warn("export interrupted by shutdown", "export_id", task.ID)
	}

	logger.Info("shutdown complete")
	return nil
}

func ensureAuthToken(repo store.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, api.AuthTokenKey)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, api.AuthTokenKey, token); err != nil {
		return "", err
	}

	return token, nil
}

func timelineOptions(cfg config.Config) timeline.Options {
	return timeline.Options{
		SplitGuard: cfg.SplitGuard(),
		TextSpan:   cfg.TextSpan(),
		ImageSpan:  cfg.ImageSpan(),
	}
}

func outputSpec(cfg config.Config) export.OutputSpec {
	spec := export.DefaultOutputSpec()
	spec.VideoCodec = cfg.VideoCodec()
	spec.AudioCodec = cfg.AudioCodec()
	spec.Preset = cfg.Preset()
	spec.CRF = cfg.CRF()
	return spec
}
