// Package main provides the camera control service entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pi-cam-service/picamd/internal/api"
	"github.com/pi-cam-service/picamd/internal/bus"
	"github.com/pi-cam-service/picamd/internal/camera"
	"github.com/pi-cam-service/picamd/internal/config"
	"github.com/pi-cam-service/picamd/internal/database"
	"github.com/pi-cam-service/picamd/internal/events"
	"github.com/pi-cam-service/picamd/internal/logging"
	"github.com/pi-cam-service/picamd/internal/reconfig"
	"github.com/pi-cam-service/picamd/internal/streaming"
	"github.com/pi-cam-service/picamd/internal/system"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", "/etc/picamd/config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Log capture buffer feeds the /v1/logs endpoint.
	logBuffer := logging.NewRingBuffer(cfg.Logging.BufferSize)
	logger := slog.New(logging.NewHandler(logBuffer, os.Stdout, cfg.LogLevel()))
	slog.SetDefault(logger)

	slog.Info("starting camera service",
		"version", version,
		"config", *configPath,
		"listen", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := os.MkdirAll(cfg.Database.DataDir, 0o755); err != nil {
		slog.Error("creating data directory failed", "error", err)
		os.Exit(1)
	}

	db, err := database.Open(database.DefaultConfig(cfg.Database.DataDir))
	if err != nil {
		slog.Error("opening database failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.NewMigrator(db).Run(ctx); err != nil {
		slog.Error("running migrations failed", "error", err)
		os.Exit(1)
	}

	eventBus, err := bus.New(bus.Config{Host: cfg.Bus.Host, Port: cfg.Bus.Port}, logger)
	if err != nil {
		slog.Error("starting event bus failed", "error", err)
		os.Exit(1)
	}
	defer eventBus.Stop()

	eventStore := events.NewService(db)
	if err := eventStore.Attach(eventBus); err != nil {
		slog.Error("attaching event store failed", "error", err)
		os.Exit(1)
	}

	device, err := camera.NewRpicamDevice(logger)
	if err != nil {
		slog.Error("probing camera failed", "error", err)
		os.Exit(1)
	}
	defer device.Close()

	camRes, err := camera.NewResource(device, logger)
	if err != nil {
		slog.Error("initialising camera resource failed", "error", err)
		os.Exit(1)
	}
	slog.Info("camera detected", "model", camRes.Model(), "wide_angle", camRes.WideAngle())

	// The pipeline gets its own background context so request handling and
	// shutdown cancellation never kill a healthy stream; teardown goes
	// through Stop below.
	pipeline := streaming.NewPipeline(context.Background(), device, cfg.Streaming.CaptureBinary, cfg.Streaming.FFmpegBinary)
	streamRes := streaming.NewResource(pipeline, cfg.Streaming.Destination, bus.SubjectStreamingState, eventBus, logger)

	controller := reconfig.New(camRes, streamRes, bus.SubjectCameraReconfigured, eventBus, logger)

	if err := applyStartupConfig(ctx, controller, cfg); err != nil {
		slog.Error("applying startup camera configuration failed", "error", err)
		os.Exit(1)
	}

	if cfg.Streaming.AutoStart {
		camCfg, _ := camRes.Config()
		bitrate := camera.Bitrate(camCfg.Width, camCfg.Height, camCfg.Framerate)
		if err := streamRes.Start(ctx, bitrate); err != nil {
			slog.Error("auto-starting stream failed", "error", err)
		}
	}

	hub := api.NewHub()
	go hub.Run()
	if err := hub.AttachBus(eventBus); err != nil {
		slog.Error("attaching websocket hub failed", "error", err)
		os.Exit(1)
	}

	monitor := system.NewMonitor(cfg.Database.DataDir, logger)

	if err := cfg.Watch(); err != nil {
		slog.Warn("watching config file failed", "error", err)
	}
	cfg.OnChange(func(c *config.Config) {
		slog.Info("configuration reloaded", "level", c.Logging.Level)
		if err := eventBus.Publish(bus.SubjectConfigChanged, map[string]any{
			"path": *configPath,
		}); err != nil {
			slog.Warn("publishing config change failed", "error", err)
		}
	})

	go pruneLoop(ctx, eventStore, cfg.Database.RetentionDays)

	server := &http.Server{
		Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: (&api.Server{
			Version:     version,
			APIKey:      cfg.Server.APIKey,
			CORSOrigins: cfg.Server.CORSOrigins,
			Controller:  controller,
			Camera:      camRes,
			Streaming:   streamRes,
			Events:      eventStore,
			Monitor:     monitor,
			Logs:        logBuffer,
			Hub:         hub,
			Bus:         eventBus,
		}).Routes(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	if err := streamRes.Stop(); err != nil {
		slog.Error("stopping stream failed", "error", err)
	}

	slog.Info("stopped")
}

// applyStartupConfig brings the camera up with the configured resolution
// and framerate before the HTTP surface accepts requests.
func applyStartupConfig(ctx context.Context, controller *reconfig.Controller, cfg *config.Config) error {
	fov, err := camera.ParseFOVMode(cfg.Camera.FOVMode)
	if err != nil {
		return err
	}
	framerate := cfg.Camera.Framerate

	res, err := controller.Apply(ctx, reconfig.Request{
		Width:     cfg.Camera.Width,
		Height:    cfg.Camera.Height,
		Framerate: &framerate,
		FOVMode:   &fov,
	})
	if err != nil {
		return err
	}

	slog.Info("camera configured",
		"width", res.AppliedWidth,
		"height", res.AppliedHeight,
		"framerate", res.AppliedFramerate,
		"sensor_mode", res.SensorMode,
		"bitrate", res.Bitrate,
	)
	return nil
}

// pruneLoop deletes persisted events past the retention window once a day.
func pruneLoop(ctx context.Context, store *events.Service, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	retention := time.Duration(retentionDays) * 24 * time.Hour

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Prune(ctx, retention)
			if err != nil {
				slog.Error("pruning events failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("pruned events", "count", n)
			}
		}
	}
}
