package streaming

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

type fakeEncoder struct {
	running  bool
	starts   int
	stops    int
	startErr error
	bitrates []int
	dests    []string
}

func (e *fakeEncoder) Start(_ context.Context, bitrate int, destination string) error {
	if e.startErr != nil {
		return e.startErr
	}
	e.running = true
	e.starts++
	e.bitrates = append(e.bitrates, bitrate)
	e.dests = append(e.dests, destination)
	return nil
}

func (e *fakeEncoder) Stop() error {
	e.running = false
	e.stops++
	return nil
}

func (e *fakeEncoder) IsRunning() bool { return e.running }

type recordingPublisher struct {
	subjects []string
	payloads []any
}

func (p *recordingPublisher) Publish(subject string, v any) error {
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, v)
	return nil
}

func newTestStreaming() (*Resource, *fakeEncoder, *recordingPublisher) {
	enc := &fakeEncoder{}
	pub := &recordingPublisher{}
	res := NewResource(enc, "rtsp://127.0.0.1:8554/cam", "streaming.state", pub, slog.Default())
	return res, enc, pub
}

func TestStartStopIdempotent(t *testing.T) {
	res, enc, _ := newTestStreaming()
	ctx := context.Background()

	if err := res.Start(ctx, 5_000_000); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := res.Start(ctx, 5_000_000); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if enc.starts != 1 {
		t.Errorf("encoder started %d times, want 1", enc.starts)
	}

	if err := res.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := res.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if enc.stops != 1 {
		t.Errorf("encoder stopped %d times, want 1", enc.stops)
	}
}

func TestStartRecordsBitrateAndDestination(t *testing.T) {
	res, enc, _ := newTestStreaming()

	if err := res.Start(context.Background(), 8_000_000); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.LastBitrate() != 8_000_000 {
		t.Errorf("LastBitrate = %d, want 8000000", res.LastBitrate())
	}
	if enc.dests[0] != "rtsp://127.0.0.1:8554/cam" {
		t.Errorf("destination = %s", enc.dests[0])
	}

	st := res.Status()
	if !st.Running || st.Bitrate != 8_000_000 || st.StartedAt.IsZero() {
		t.Errorf("status = %+v", st)
	}
}

func TestStartFailurePropagates(t *testing.T) {
	res, enc, pub := newTestStreaming()
	enc.startErr = errors.New("no camera")

	if err := res.Start(context.Background(), 5_000_000); err == nil {
		t.Fatal("Start succeeded despite encoder failure")
	}
	if len(pub.subjects) != 0 {
		t.Error("failed start published a state event")
	}
}

func TestStateEventsPublished(t *testing.T) {
	res, _, pub := newTestStreaming()

	_ = res.Start(context.Background(), 5_000_000)
	_ = res.Stop()

	if len(pub.subjects) != 2 {
		t.Fatalf("published %d events, want 2", len(pub.subjects))
	}
	start := pub.payloads[0].(StateEvent)
	stop := pub.payloads[1].(StateEvent)
	if !start.Running || stop.Running {
		t.Errorf("events = %+v, %+v", start, stop)
	}
}
