package log

import (
	"path/filepath"
	"testing"
	"time"
)

func writeEvents(t *testing.T, events ...Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "filter.bplog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return path
}

func readAll(t *testing.T, path string, f Filter) []Event {
	t.Helper()
	r, err := NewFilteredReader(path, f)
	if err != nil {
		t.Fatalf("NewFilteredReader failed: %v", err)
	}
	defer r.Close()

	var out []Event
	for e, err := range r.All() {
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		out = append(out, e)
	}
	return out
}

func TestReaderFilter(t *testing.T) {
	base := time.Now()
	dev := uint32(3)

	scalar := messageEvent("a", DirectionOut, 1, "ScalarCmd")
	scalar.Timestamp = base
	scalar.Message.DeviceIndex = &dev

	ping := messageEvent("a", DirectionOut, 2, "Ping")
	ping.Timestamp = base.Add(time.Second)
	ping.Category = CategoryKeepAlive

	other := messageEvent("b", DirectionIn, 1, "Ok")
	other.Timestamp = base.Add(2 * time.Second)

	state := Event{
		Timestamp:    base.Add(3 * time.Second),
		ConnectionID: "a",
		Layer:        LayerSession,
		Category:     CategoryState,
		StateChange:  &StateChangeEvent{OldState: "ACTIVE", NewState: "CLOSED"},
	}

	path := writeEvents(t, scalar, ping, other, state)

	in := DirectionIn
	keepAlive := CategoryKeepAlive
	session := LayerSession
	start := base.Add(500 * time.Millisecond)
	end := base.Add(2500 * time.Millisecond)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"All", Filter{}, 4},
		{"Connection", Filter{ConnectionID: "a"}, 3},
		{"Direction", Filter{Direction: &in}, 1},
		{"Category", Filter{Category: &keepAlive}, 1},
		{"Layer", Filter{Layer: &session}, 1},
		{"Kind", Filter{Kind: "ScalarCmd"}, 1},
		{"Device", Filter{DeviceIndex: &dev}, 1},
		{"TimeRange", Filter{TimeStart: &start, TimeEnd: &end}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := readAll(t, path, tt.filter); len(got) != tt.want {
				t.Errorf("got %d events, want %d", len(got), tt.want)
			}
		})
	}
}

func TestReaderMissingFile(t *testing.T) {
	if _, err := NewReader(filepath.Join(t.TempDir(), "missing.bplog")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestReaderAllStopsEarly(t *testing.T) {
	path := writeEvents(t,
		messageEvent("a", DirectionOut, 1, "Ping"),
		messageEvent("a", DirectionIn, 1, "Ok"),
		messageEvent("a", DirectionOut, 2, "Ping"),
	)
	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer r.Close()

	for e, err := range r.All() {
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if e.Message.Kind == "Ok" {
			break
		}
	}

	next, err := r.Next()
	if err != nil {
		t.Fatalf("Next after break: %v", err)
	}
	if next.Message.ID != 2 {
		t.Errorf("resumed at id %d, want 2", next.Message.ID)
	}
}
