package reconfig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pi-cam-service/picamd/internal/camera"
)

// journal records the order of camera and streaming operations across
// goroutines.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) record(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.entries))
	copy(out, j.entries)
	return out
}

type fakeCamera struct {
	mu           sync.Mutex
	journal      *journal
	wideAngle    bool
	configured   bool
	config       camera.DeviceConfig
	configureErr error
	delay        time.Duration
}

func (c *fakeCamera) Configure(cfg camera.DeviceConfig) error {
	c.journal.record(fmt.Sprintf("configure %dx%d", cfg.Width, cfg.Height))
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.configureErr != nil {
		return c.configureErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config = cfg
	c.configured = true
	return nil
}

func (c *fakeCamera) Config() (camera.DeviceConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config, c.configured
}

func (c *fakeCamera) WideAngle() bool { return c.wideAngle }

type fakeStreamer struct {
	mu       sync.Mutex
	journal  *journal
	running  bool
	bitrate  int
	startErr error
}

func (s *fakeStreamer) Start(_ context.Context, bitrate int) error {
	s.journal.record(fmt.Sprintf("stream start %d", bitrate))
	if s.startErr != nil {
		return s.startErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	s.bitrate = bitrate
	return nil
}

func (s *fakeStreamer) Stop() error {
	s.journal.record("stream stop")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

func (s *fakeStreamer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *fakeStreamer) LastBitrate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bitrate
}

func newTestController(wideAngle bool) (*Controller, *fakeCamera, *fakeStreamer, *journal) {
	j := &journal{}
	cam := &fakeCamera{journal: j, wideAngle: wideAngle}
	stream := &fakeStreamer{journal: j}
	ctrl := New(cam, stream, "camera.reconfigured", nil, slog.Default())
	return ctrl, cam, stream, j
}

func fps(v float64) *float64 { return &v }

func configureAndStream(t *testing.T, ctrl *Controller, stream *fakeStreamer) {
	t.Helper()
	if _, err := ctrl.Apply(context.Background(), Request{Width: 1920, Height: 1080, Framerate: fps(30)}); err != nil {
		t.Fatalf("initial Apply: %v", err)
	}
	if err := stream.Start(context.Background(), 13_478_400); err != nil {
		t.Fatalf("stream start: %v", err)
	}
}

func TestApplyOrdersStopConfigureStart(t *testing.T) {
	ctrl, _, stream, j := newTestController(false)
	configureAndStream(t, ctrl, stream)

	res, err := ctrl.Apply(context.Background(), Request{Width: 1280, Height: 720, Framerate: fps(60)})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	want := []string{
		"configure 1920x1080",
		"stream start 13478400",
		"stream stop",
		"configure 1280x720",
		fmt.Sprintf("stream start %d", res.Bitrate),
	}
	got := j.list()
	if len(got) != len(want) {
		t.Fatalf("journal = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("journal[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if !res.StreamingAlive {
		t.Error("streaming not alive after reconfiguration")
	}
}

func TestApplyClampsFramerate(t *testing.T) {
	tests := []struct {
		name       string
		width      int
		height     int
		framerate  float64
		wideAngle  bool
		wantFPS    float64
		wantMax    float64
		wantClamp  bool
		wantMode   string
	}{
		{"720p60 standard within mode", 1280, 720, 60, false, 60, 120, false, "720p120"},
		{"720p60 wide angle clamped to 50", 1280, 720, 60, true, 50, 50, true, "1080p50"},
		{"1080p60 clamped to 50", 1920, 1080, 60, false, 50, 50, true, "1080p50"},
		{"4k60 clamped to 30", 3840, 2160, 60, false, 30, 30, true, "2160p30"},
		{"1440p40 exact", 2560, 1440, 40, false, 40, 40, false, "1440p40"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl, _, _, _ := newTestController(tt.wideAngle)
			res, err := ctrl.Apply(context.Background(), Request{Width: tt.width, Height: tt.height, Framerate: fps(tt.framerate)})
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if res.AppliedFramerate != tt.wantFPS {
				t.Errorf("applied framerate = %g, want %g", res.AppliedFramerate, tt.wantFPS)
			}
			if res.MaxFramerate != tt.wantMax {
				t.Errorf("max framerate = %g, want %g", res.MaxFramerate, tt.wantMax)
			}
			if res.FramerateClamped != tt.wantClamp {
				t.Errorf("clamped = %v, want %v", res.FramerateClamped, tt.wantClamp)
			}
			if res.SensorMode != tt.wantMode {
				t.Errorf("sensor mode = %s, want %s", res.SensorMode, tt.wantMode)
			}
			if res.RequestedFramerate != tt.framerate {
				t.Errorf("requested framerate = %g, want %g", res.RequestedFramerate, tt.framerate)
			}
		})
	}
}

func TestApplyClampsOversizedResolution(t *testing.T) {
	ctrl, _, _, _ := newTestController(false)

	res, err := ctrl.Apply(context.Background(), Request{Width: 4000, Height: 3000, Framerate: fps(30)})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.AppliedWidth != 3840 || res.AppliedHeight != 2160 {
		t.Errorf("applied = %dx%d, want 3840x2160", res.AppliedWidth, res.AppliedHeight)
	}
	if !res.ResolutionClamped {
		t.Error("resolution clamp not reported")
	}
}

func TestApplyValidatesBeforeLocking(t *testing.T) {
	ctrl, _, _, j := newTestController(false)

	tests := []Request{
		{Width: 1920, Framerate: fps(30)},                 // height missing
		{Width: 1921, Height: 1080, Framerate: fps(30)},   // odd width
		{Width: 32, Height: 32, Framerate: fps(30)},       // below minimum
		{Width: 5000, Height: 3000, Framerate: fps(30)},   // above maximum
		{Width: 1920, Height: 1080, Framerate: fps(-5)},   // negative framerate
		{Width: 1920, Height: 1080, Framerate: fps(1001)}, // absurd framerate
	}
	for _, req := range tests {
		if _, err := ctrl.Apply(context.Background(), req); !camera.IsValidation(err) {
			t.Errorf("request %+v: want validation error, got %v", req, err)
		}
	}
	if len(j.list()) != 0 {
		t.Errorf("invalid requests touched collaborators: %v", j.list())
	}
}

func TestApplyRollsBackOnConfigureFailure(t *testing.T) {
	ctrl, cam, stream, _ := newTestController(false)
	configureAndStream(t, ctrl, stream)

	cam.configureErr = errors.New("sensor timeout")
	_, err := ctrl.Apply(context.Background(), Request{Width: 3840, Height: 2160})

	var rerr *Error
	if !errors.As(err, &rerr) {
		t.Fatalf("want *Error, got %v", err)
	}
	if rerr.Stage != StageConfigure || !rerr.RolledBack {
		t.Errorf("error = %+v, want configure stage rolled back", rerr)
	}

	cfg, _ := cam.Config()
	if cfg.Width != 1920 || cfg.Height != 1080 {
		t.Errorf("camera config = %dx%d, want previous 1920x1080", cfg.Width, cfg.Height)
	}
	if !stream.IsRunning() {
		t.Error("stream not restarted after rollback")
	}
	if stream.LastBitrate() != 13_478_400 {
		t.Errorf("rollback bitrate = %d, want previous 13478400", stream.LastBitrate())
	}
}

func TestApplyReportsDegradedOnStreamStartFailure(t *testing.T) {
	ctrl, cam, stream, _ := newTestController(false)
	configureAndStream(t, ctrl, stream)

	stream.startErr = errors.New("rtsp refused")
	res, err := ctrl.Apply(context.Background(), Request{Width: 1280, Height: 720, Framerate: fps(30)})

	var rerr *Error
	if !errors.As(err, &rerr) {
		t.Fatalf("want *Error, got %v", err)
	}
	if rerr.Stage != StageStartStream || rerr.RolledBack {
		t.Errorf("error = %+v, want start-stream stage, not rolled back", rerr)
	}
	if res.StreamingAlive {
		t.Error("result claims streaming alive")
	}

	// New camera configuration is kept.
	cfg, _ := cam.Config()
	if cfg.Width != 1280 || cfg.Height != 720 {
		t.Errorf("camera config = %dx%d, want new 1280x720", cfg.Width, cfg.Height)
	}
}

func TestApplySkipsStreamWhenNotRunning(t *testing.T) {
	ctrl, _, _, j := newTestController(false)

	if _, err := ctrl.Apply(context.Background(), Request{Width: 1920, Height: 1080, Framerate: fps(30)}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	for _, entry := range j.list() {
		if entry == "stream stop" {
			t.Error("stream stopped although it was not running")
		}
	}
}

func TestConcurrentAppliesAreSerialised(t *testing.T) {
	ctrl, cam, stream, j := newTestController(false)
	configureAndStream(t, ctrl, stream)
	cam.delay = 10 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, h := 1280, 720
			if i%2 == 0 {
				w, h = 1920, 1080
			}
			if _, err := ctrl.Apply(context.Background(), Request{Width: w, Height: h}); err != nil {
				t.Errorf("Apply %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	// Every reconfiguration must appear as an uninterleaved
	// stop/configure/start triple.
	entries := j.list()[2:] // skip the setup configure + start
	if len(entries)%3 != 0 {
		t.Fatalf("journal length %d not a multiple of 3: %v", len(entries), entries)
	}
	for i := 0; i < len(entries); i += 3 {
		if entries[i] != "stream stop" {
			t.Fatalf("entry %d = %s, want stream stop", i, entries[i])
		}
		if len(entries[i+1]) < 9 || entries[i+1][:9] != "configure" {
			t.Fatalf("entry %d = %s, want configure", i+1, entries[i+1])
		}
		if len(entries[i+2]) < 12 || entries[i+2][:12] != "stream start" {
			t.Fatalf("entry %d = %s, want stream start", i+2, entries[i+2])
		}
	}
}

func TestTryApplyReturnsBusy(t *testing.T) {
	ctrl, cam, stream, _ := newTestController(false)
	configureAndStream(t, ctrl, stream)
	cam.delay = 100 * time.Millisecond

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		_, _ = ctrl.Apply(context.Background(), Request{Width: 1280, Height: 720})
		close(done)
	}()

	<-started
	time.Sleep(20 * time.Millisecond) // let the slow Apply take the lock

	_, err := ctrl.TryApply(context.Background(), Request{Width: 1920, Height: 1080})
	if !errors.Is(err, ErrBusy) {
		t.Errorf("TryApply = %v, want ErrBusy", err)
	}
	<-done
}

func TestApplyPublishesEvent(t *testing.T) {
	j := &journal{}
	cam := &fakeCamera{journal: j}
	stream := &fakeStreamer{journal: j}
	pub := &recordingPublisher{}
	ctrl := New(cam, stream, "camera.reconfigured", pub, slog.Default())

	if _, err := ctrl.Apply(context.Background(), Request{Width: 1920, Height: 1080, Framerate: fps(30)}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(pub.subjects) != 1 || pub.subjects[0] != "camera.reconfigured" {
		t.Fatalf("published subjects = %v", pub.subjects)
	}
	ev := pub.payloads[0].(Event)
	if ev.Result.AppliedWidth != 1920 || ev.Timestamp.IsZero() {
		t.Errorf("event = %+v", ev)
	}
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads []any
}

func (p *recordingPublisher) Publish(subject string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, v)
	return nil
}
