// Package streaming manages the capture and RTSP publish subprocesses.
package streaming

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// CaptureSource renders the current camera configuration as capture tool
// arguments. Satisfied by camera.RpicamDevice.
type CaptureSource interface {
	CaptureArgs() []string
}

// Pipeline runs rpicam-vid piped into ffmpeg, which publishes H.264 over
// RTSP to MediaMTX. It restarts the pair if they die, with a circuit
// breaker so a broken camera cannot restart-loop forever.
type Pipeline struct {
	mu      sync.Mutex
	logger  *slog.Logger
	source  CaptureSource
	capture string
	ffmpeg  string

	// ctx bounds the subprocess lifetime. It must outlive individual
	// Start calls; request contexts would kill the stream when the
	// request finishes.
	ctx context.Context

	vidCmd    *exec.Cmd
	ffmpegCmd *exec.Cmd
	running   bool

	bitrate     int
	destination string

	restartCount    int
	lastRestartTime time.Time
	circuitOpen     bool
}

// NewPipeline builds a pipeline. ctx scopes the subprocesses to the
// service lifetime; cancelling it tears them down. Binary paths may be
// empty to search PATH on first start.
func NewPipeline(ctx context.Context, source CaptureSource, captureBinary, ffmpegBinary string) *Pipeline {
	return &Pipeline{
		logger:  slog.Default().With("component", "pipeline"),
		source:  source,
		capture: captureBinary,
		ffmpeg:  ffmpegBinary,
		ctx:     ctx,
	}
}

// Start launches the capture and publish processes. The processes outlive
// the call; they run until Stop or the pipeline context ends. Returns an
// error if the pipeline is already running; idempotency lives in Resource.
func (p *Pipeline) Start(_ context.Context, bitrate int, destination string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startLocked(bitrate, destination)
}

func (p *Pipeline) startLocked(bitrate int, destination string) error {
	if p.running {
		return fmt.Errorf("pipeline already running")
	}

	capture, err := p.findCaptureBinary()
	if err != nil {
		return err
	}
	ffmpeg, err := p.findFFmpegBinary()
	if err != nil {
		return err
	}

	vidArgs := append([]string{
		"--codec", "h264",
		"--bitrate", fmt.Sprint(bitrate),
		"--inline",
		"--timeout", "0",
		"--nopreview",
		"-o", "-",
	}, p.source.CaptureArgs()...)

	ffmpegArgs := []string{
		"-hide_banner", "-v", "error",
		"-fflags", "nobuffer",
		"-f", "h264", "-i", "-",
		"-c:v", "copy",
		"-f", "rtsp", "-rtsp_transport", "tcp",
		destination,
	}

	p.logger.Info("starting pipeline",
		"bitrate", bitrate,
		"destination", destination)

	vidCmd := exec.CommandContext(p.ctx, capture, vidArgs...)
	vidCmd.Stderr = &logWriter{logger: p.logger.With("process", "capture"), level: slog.LevelDebug}

	stdout, err := vidCmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating capture pipe: %w", err)
	}

	ffmpegCmd := exec.CommandContext(p.ctx, ffmpeg, ffmpegArgs...)
	ffmpegCmd.Stdin = stdout
	ffmpegCmd.Stdout = &logWriter{logger: p.logger.With("process", "publish"), level: slog.LevelInfo}
	ffmpegCmd.Stderr = &logWriter{logger: p.logger.With("process", "publish"), level: slog.LevelError}

	if err := vidCmd.Start(); err != nil {
		return fmt.Errorf("starting capture: %w", err)
	}
	if err := ffmpegCmd.Start(); err != nil {
		_ = vidCmd.Process.Kill()
		_ = vidCmd.Wait()
		return fmt.Errorf("starting publisher: %w", err)
	}

	p.vidCmd = vidCmd
	p.ffmpegCmd = ffmpegCmd
	p.running = true
	p.bitrate = bitrate
	p.destination = destination

	go p.monitor(vidCmd)
	return nil
}

// Stop terminates both processes, interrupt first then kill.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}
	p.logger.Info("stopping pipeline")

	vid, ff := p.vidCmd, p.ffmpegCmd
	p.running = false
	p.vidCmd = nil
	p.ffmpegCmd = nil

	for _, cmd := range []*exec.Cmd{vid, ff} {
		if cmd == nil || cmd.Process == nil {
			continue
		}
		if err := cmd.Process.Signal(os.Interrupt); err != nil {
			p.logger.Warn("interrupt failed", "error", err)
		}
	}

	for _, cmd := range []*exec.Cmd{vid, ff} {
		if cmd == nil || cmd.Process == nil {
			continue
		}
		done := make(chan error, 1)
		go func(c *exec.Cmd) { done <- c.Wait() }(cmd)
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			p.logger.Warn("force killing pipeline process")
			_ = cmd.Process.Kill()
			<-done
		}
	}
	return nil
}

// IsRunning reports whether the pipeline processes are up.
func (p *Pipeline) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// monitor waits on the capture process and restarts the pair if it exits
// while it was supposed to be running.
func (p *Pipeline) monitor(cmd *exec.Cmd) {
	err := cmd.Wait()

	p.mu.Lock()
	if p.vidCmd != cmd {
		// Stop already reaped this process.
		p.mu.Unlock()
		return
	}
	p.running = false
	if p.ffmpegCmd != nil && p.ffmpegCmd.Process != nil {
		_ = p.ffmpegCmd.Process.Kill()
		_ = p.ffmpegCmd.Wait()
	}
	p.vidCmd = nil
	p.ffmpegCmd = nil

	const (
		maxRestarts     = 5
		resetWindow     = 5 * time.Minute
		circuitCooldown = 2 * time.Minute
	)

	if time.Since(p.lastRestartTime) > resetWindow {
		p.restartCount = 0
		p.circuitOpen = false
	}

	if p.circuitOpen {
		if time.Since(p.lastRestartTime) > circuitCooldown {
			p.logger.Info("circuit breaker cooldown passed, allowing restart")
			p.circuitOpen = false
			p.restartCount = 0
		} else {
			remaining := circuitCooldown - time.Since(p.lastRestartTime)
			p.mu.Unlock()
			p.logger.Warn("circuit breaker open, not restarting pipeline",
				"cooldown_remaining", remaining)
			return
		}
	}

	p.logger.Error("pipeline exited unexpectedly", "error", err)

	p.restartCount++
	p.lastRestartTime = time.Now()

	if p.restartCount >= maxRestarts {
		p.circuitOpen = true
		p.mu.Unlock()
		p.logger.Error("circuit breaker opened, too many pipeline restarts",
			"restarts", p.restartCount,
			"cooldown", circuitCooldown)
		return
	}

	backoff := time.Duration(1<<p.restartCount) * time.Second
	if backoff > 32*time.Second {
		backoff = 32 * time.Second
	}
	bitrate, destination := p.bitrate, p.destination
	p.mu.Unlock()

	p.logger.Info("restarting pipeline with backoff",
		"attempt", p.restartCount,
		"backoff", backoff)
	time.Sleep(backoff)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		// Someone started it in the meantime.
		return
	}
	if err := p.startLocked(bitrate, destination); err != nil {
		p.logger.Error("pipeline restart failed", "error", err)
	}
}

func (p *Pipeline) findCaptureBinary() (string, error) {
	if p.capture != "" {
		return p.capture, nil
	}
	for _, name := range []string{"rpicam-vid", "libcamera-vid"} {
		if path, err := exec.LookPath(name); err == nil {
			p.capture = path
			return path, nil
		}
	}
	return "", fmt.Errorf("rpicam-vid not found in PATH")
}

func (p *Pipeline) findFFmpegBinary() (string, error) {
	if p.ffmpeg != "" {
		return p.ffmpeg, nil
	}
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return "", fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	p.ffmpeg = path
	return path, nil
}

// logWriter bridges subprocess output into slog.
type logWriter struct {
	logger *slog.Logger
	level  slog.Level
}

func (w *logWriter) Write(p []byte) (n int, err error) {
	msg := string(p)
	if len(msg) > 0 && msg[len(msg)-1] == '\n' {
		msg = msg[:len(msg)-1]
	}
	if msg != "" {
		w.logger.Log(context.Background(), w.level, msg)
	}
	return len(p), nil
}
