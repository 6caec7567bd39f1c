// Package reconfig serialises camera reconfiguration against streaming.
package reconfig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pi-cam-service/picamd/internal/camera"
)

// ErrBusy is returned by TryApply when a reconfiguration is in flight.
var ErrBusy = errors.New("reconfiguration in progress")

// Stages at which a reconfiguration can fail.
const (
	StageStopStream  = "stop-stream"
	StageConfigure   = "configure-camera"
	StageStartStream = "start-stream"
)

// Error reports a failed reconfiguration. RolledBack is true when the
// previous camera configuration and stream were restored; a false value
// with Stage == StageStartStream means the camera holds the new
// configuration but streaming is down.
type Error struct {
	Stage      string
	RolledBack bool
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("reconfiguration failed at %s (rolled back: %v): %v", e.Stage, e.RolledBack, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Camera is the camera-side collaborator, satisfied by *camera.Resource.
type Camera interface {
	Configure(cfg camera.DeviceConfig) error
	Config() (camera.DeviceConfig, bool)
	WideAngle() bool
}

// Streamer is the streaming-side collaborator, satisfied by
// *streaming.Resource.
type Streamer interface {
	Start(ctx context.Context, bitrate int) error
	Stop() error
	IsRunning() bool
	LastBitrate() int
}

// Publisher pushes reconfiguration events onto the bus. Nil drops them.
type Publisher interface {
	Publish(subject string, v any) error
}

// Request describes a reconfiguration. Zero Width/Height and nil
// Framerate/FOVMode keep the current values.
type Request struct {
	Width     int
	Height    int
	Framerate *float64
	FOVMode   *camera.FOVMode

	// KeepStreamingDown suppresses the stream restart after a successful
	// camera change.
	KeepStreamingDown bool
}

// Result reports what a reconfiguration actually did.
type Result struct {
	RequestedWidth     int     `json:"requested_width"`
	RequestedHeight    int     `json:"requested_height"`
	AppliedWidth       int     `json:"applied_width"`
	AppliedHeight      int     `json:"applied_height"`
	RequestedFramerate float64 `json:"requested_framerate"`
	AppliedFramerate   float64 `json:"applied_framerate"`
	MaxFramerate       float64 `json:"max_framerate_for_resolution"`
	FramerateClamped   bool    `json:"clamped"`
	ResolutionClamped  bool    `json:"resolution_clamped"`
	SensorMode         string  `json:"sensor_mode"`
	FOVMode            string  `json:"fov_mode"`
	Bitrate            int     `json:"bitrate"`
	StreamingAlive     bool    `json:"streaming_alive"`
}

// Event is the payload published on successful reconfigurations.
type Event struct {
	Result    Result    `json:"result"`
	Timestamp time.Time `json:"timestamp"`
}

// Controller owns the single lock that serialises reconfiguration.
//
// The lock is a strict mutex: it is acquired exactly once per Apply and
// never re-acquired further down the call chain. Apply blocks with no
// timeout while an earlier reconfiguration runs; reconfigurations finish
// in bounded time (subprocess stop/start), so queued callers are served
// in lock order rather than failed. Callers that prefer to fail fast use
// TryApply.
type Controller struct {
	mu      sync.Mutex
	logger  *slog.Logger
	camera  Camera
	stream  Streamer
	pub     Publisher
	subject string
}

// New builds a controller. subject is the bus subject for reconfiguration
// events.
func New(cam Camera, stream Streamer, subject string, pub Publisher, logger *slog.Logger) *Controller {
	return &Controller{
		logger:  logger.With("component", "reconfig"),
		camera:  cam,
		stream:  stream,
		pub:     pub,
		subject: subject,
	}
}

// Apply runs one reconfiguration: validate, lock, stop streaming,
// configure the camera, restart streaming, unlock.
//
// On a camera-configure failure nothing is committed and the previous
// stream is restarted (Error.RolledBack). On a streaming-start failure
// the new camera configuration is kept and the returned Result reports
// StreamingAlive false alongside the Error.
func (c *Controller) Apply(ctx context.Context, req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applyLocked(ctx, req)
}

// TryApply is Apply except it returns ErrBusy instead of waiting when
// another reconfiguration holds the lock.
func (c *Controller) TryApply(ctx context.Context, req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}

	if !c.mu.TryLock() {
		return Result{}, ErrBusy
	}
	defer c.mu.Unlock()
	return c.applyLocked(ctx, req)
}

func validate(req Request) error {
	if (req.Width == 0) != (req.Height == 0) {
		return &camera.ValidationError{Field: "resolution", Message: "width and height must be set together"}
	}
	if req.Width < 0 || req.Height < 0 {
		return &camera.ValidationError{Field: "resolution", Message: "width and height must be positive"}
	}
	if req.Width > 0 && (req.Width < 64 || req.Height < 64 || req.Width > 4096 || req.Height > 4096) {
		return &camera.ValidationError{Field: "resolution", Message: "width and height must be within [64, 4096]"}
	}
	if req.Width%2 != 0 || req.Height%2 != 0 {
		return &camera.ValidationError{Field: "resolution", Message: "width and height must be even"}
	}
	if req.Framerate != nil && (*req.Framerate <= 0 || *req.Framerate > 1000) {
		return &camera.ValidationError{Field: "framerate", Message: fmt.Sprintf("must be positive and at most 1000 (got %g)", *req.Framerate)}
	}
	return nil
}

func (c *Controller) applyLocked(ctx context.Context, req Request) (Result, error) {
	current, configured := c.camera.Config()
	if !configured && (req.Width == 0 || req.Framerate == nil) {
		return Result{}, &camera.ValidationError{Field: "resolution", Message: "camera not configured yet, resolution and framerate required"}
	}

	target := current
	if req.Width > 0 {
		target.Width, target.Height = req.Width, req.Height
	}
	if req.Framerate != nil {
		target.Framerate = *req.Framerate
	}
	if req.FOVMode != nil {
		target.FOVMode = *req.FOVMode
	}
	if target.FOVMode == "" {
		target.FOVMode = camera.FOVScale
	}

	mode, appliedW, appliedH := camera.SelectSensorMode(target.Width, target.Height, target.FOVMode, c.camera.WideAngle())
	appliedFPS, fpsClamped := camera.ClampFramerate(target.Framerate, mode)
	bitrate := camera.Bitrate(appliedW, appliedH, appliedFPS)

	res := Result{
		RequestedWidth:     target.Width,
		RequestedHeight:    target.Height,
		AppliedWidth:       appliedW,
		AppliedHeight:      appliedH,
		RequestedFramerate: target.Framerate,
		AppliedFramerate:   appliedFPS,
		MaxFramerate:       mode.MaxFramerate,
		FramerateClamped:   fpsClamped,
		ResolutionClamped:  appliedW != target.Width || appliedH != target.Height,
		SensorMode:         mode.Name,
		FOVMode:            string(target.FOVMode),
		Bitrate:            bitrate,
	}

	wasStreaming := c.stream.IsRunning()
	prevBitrate := c.stream.LastBitrate()

	c.logger.Info("reconfiguring camera",
		"resolution", fmt.Sprintf("%dx%d", appliedW, appliedH),
		"framerate", appliedFPS,
		"sensor_mode", mode.Name,
		"streaming", wasStreaming)

	if wasStreaming {
		if err := c.stream.Stop(); err != nil {
			return res, &Error{Stage: StageStopStream, RolledBack: true, Err: err}
		}
	}

	target.Width, target.Height = appliedW, appliedH
	target.Framerate = appliedFPS
	if err := c.camera.Configure(target); err != nil {
		rolledBack := true
		if wasStreaming {
			if rerr := c.stream.Start(ctx, prevBitrate); rerr != nil {
				rolledBack = false
				c.logger.Error("stream restart after rollback failed", "error", rerr)
			}
		}
		res.StreamingAlive = c.stream.IsRunning()
		return res, &Error{Stage: StageConfigure, RolledBack: rolledBack, Err: err}
	}

	if wasStreaming && !req.KeepStreamingDown {
		if err := c.stream.Start(ctx, bitrate); err != nil {
			// Camera holds the new configuration; caller decides whether
			// to retry the stream.
			res.StreamingAlive = false
			return res, &Error{Stage: StageStartStream, RolledBack: false, Err: err}
		}
	}
	res.StreamingAlive = c.stream.IsRunning()

	c.publish(res)
	return res, nil
}

func (c *Controller) publish(res Result) {
	if c.pub == nil {
		return
	}
	if err := c.pub.Publish(c.subject, Event{Result: res, Timestamp: time.Now()}); err != nil {
		c.logger.Warn("publishing reconfiguration event failed", "error", err)
	}
}
