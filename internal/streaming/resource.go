package streaming

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Encoder is the subprocess side of the streaming resource. Production
// code uses *Pipeline; tests use an instrumented fake.
type Encoder interface {
	Start(ctx context.Context, bitrate int, destination string) error
	Stop() error
	IsRunning() bool
}

// Publisher pushes state change events onto the bus. A nil Publisher is
// allowed and drops events.
type Publisher interface {
	Publish(subject string, v any) error
}

// StateEvent is the payload published on streaming state changes.
type StateEvent struct {
	Running     bool   `json:"running"`
	Bitrate     int    `json:"bitrate"`
	Destination string `json:"destination"`
}

// Status is a consistent view of the streaming state.
type Status struct {
	Running     bool      `json:"running"`
	Bitrate     int       `json:"bitrate"`
	Destination string    `json:"destination"`
	StartedAt   time.Time `json:"started_at,omitempty"`
}

// Resource owns the streaming lock and makes start/stop idempotent. It
// remembers the last bitrate and destination so the reconfiguration path
// can restart the stream after a camera change.
type Resource struct {
	mu      sync.Mutex
	logger  *slog.Logger
	encoder Encoder
	pub     Publisher
	subject string

	destination string
	bitrate     int
	startedAt   time.Time
}

// NewResource wraps an encoder. destination is the RTSP publish target,
// e.g. rtsp://127.0.0.1:8554/cam. subject is the bus subject for state
// events.
func NewResource(encoder Encoder, destination, subject string, pub Publisher, logger *slog.Logger) *Resource {
	return &Resource{
		logger:      logger.With("component", "streaming"),
		encoder:     encoder,
		pub:         pub,
		subject:     subject,
		destination: destination,
	}
}

// Start begins streaming at the given bitrate. Starting an active stream
// is a no-op success.
func (r *Resource) Start(ctx context.Context, bitrate int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.encoder.IsRunning() {
		r.logger.Debug("start ignored, already streaming")
		return nil
	}

	if err := r.encoder.Start(ctx, bitrate, r.destination); err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}
	r.bitrate = bitrate
	r.startedAt = time.Now()
	r.logger.Info("streaming started", "bitrate", bitrate, "destination", r.destination)
	r.publish(true)
	return nil
}

// Stop ends streaming. Stopping an inactive stream is a no-op success.
func (r *Resource) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.encoder.IsRunning() {
		r.logger.Debug("stop ignored, not streaming")
		return nil
	}

	if err := r.encoder.Stop(); err != nil {
		return fmt.Errorf("stopping stream: %w", err)
	}
	r.logger.Info("streaming stopped")
	r.publish(false)
	return nil
}

// IsRunning reports whether the encoder is up.
func (r *Resource) IsRunning() bool {
	return r.encoder.IsRunning()
}

// LastBitrate returns the bitrate of the most recent start.
func (r *Resource) LastBitrate() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bitrate
}

// Status captures the streaming state in one lock acquisition.
func (r *Resource) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Status{
		Running:     r.encoder.IsRunning(),
		Bitrate:     r.bitrate,
		Destination: r.destination,
	}
	if s.Running {
		s.StartedAt = r.startedAt
	}
	return s
}

func (r *Resource) publish(running bool) {
	if r.pub == nil {
		return
	}
	ev := StateEvent{Running: running, Bitrate: r.bitrate, Destination: r.destination}
	if err := r.pub.Publish(r.subject, ev); err != nil {
		r.logger.Warn("publishing state event failed", "error", err)
	}
}
