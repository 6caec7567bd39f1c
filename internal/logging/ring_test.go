package logging

import (
	"io"
	"log/slog"
	"testing"
)

func TestRingBufferEvictsOldest(t *testing.T) {
	rb := NewRingBuffer(3)
	for _, msg := range []string{"a", "b", "c", "d"} {
		rb.Add(Entry{Message: msg})
	}

	recent := rb.Recent(3)
	if len(recent) != 3 {
		t.Fatalf("Recent(3) = %d entries", len(recent))
	}
	want := []string{"b", "c", "d"}
	for i, w := range want {
		if recent[i].Message != w {
			t.Errorf("recent[%d] = %s, want %s", i, recent[i].Message, w)
		}
	}
}

func TestRingBufferRecentClampsToCount(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Add(Entry{Message: "only"})

	recent := rb.Recent(5)
	if len(recent) != 1 || recent[0].Message != "only" {
		t.Errorf("Recent(5) = %v", recent)
	}
}

func TestHandlerCapturesComponent(t *testing.T) {
	rb := NewRingBuffer(10)
	logger := slog.New(NewHandler(rb, io.Discard, slog.LevelDebug)).With("component", "camera")

	logger.Info("configured", "width", 1920)

	recent := rb.Recent(1)
	if len(recent) != 1 {
		t.Fatal("no entry captured")
	}
	e := recent[0]
	if e.Component != "camera" || e.Message != "configured" || e.Level != "INFO" {
		t.Errorf("entry = %+v", e)
	}
	if e.Attrs["width"] != int64(1920) {
		t.Errorf("width attr = %v (%T)", e.Attrs["width"], e.Attrs["width"])
	}
}

func TestHandlerRespectsLevel(t *testing.T) {
	rb := NewRingBuffer(10)
	logger := slog.New(NewHandler(rb, io.Discard, slog.LevelInfo))

	logger.Debug("hidden")
	if len(rb.Recent(1)) != 0 {
		t.Error("debug entry captured despite info level")
	}
}
