package web

import (
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/cjeanneret/vibecast/internal/debug"
)

// next decodes the next event on ch or fails after a second.
func next(t *testing.T, ch <-chan string) StatusEvent {
	t.Helper()
	select {
	case raw, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		var evt StatusEvent
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			t.Fatalf("unmarshal %q: %v", raw, err)
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("no event within 1s")
	}
	return StatusEvent{}
}

func TestBroadcast_EverySSEClientSeesBatchResult(t *testing.T) {
	b := NewStatusBroadcaster()
	dashboard, unsubA := b.Subscribe()
	defer unsubA()
	phone, unsubB := b.Subscribe()
	defer unsubB()

	b.BroadcastMsg("Batch complete")
	b.Broadcast("error", "Batch failed: camera: snapshot: connection refused")

	for name, ch := range map[string]<-chan string{"dashboard": dashboard, "phone": phone} {
		if evt := next(t, ch); evt.Level != "info" || evt.Msg != "Batch complete" {
			t.Errorf("%s: first event = %+v", name, evt)
		}
		if evt := next(t, ch); evt.Level != "error" || evt.Msg != "Batch failed: camera: snapshot: connection refused" {
			t.Errorf("%s: second event = %+v", name, evt)
		}
	}
}

func TestBroadcast_TimestampIsRFC3339(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	before := time.Now().Add(-time.Second)
	b.BroadcastMsg("Rotated B by 30.0°")
	evt := next(t, ch)
	ts, err := time.Parse(time.RFC3339, evt.Time)
	if err != nil {
		t.Fatalf("event time %q: %v", evt.Time, err)
	}
	if ts.Before(before.Truncate(time.Second)) {
		t.Errorf("event time %s is older than the broadcast", ts)
	}
	if evt.Msg != "Rotated B by 30.0°" {
		t.Errorf("msg = %q", evt.Msg)
	}
}

func TestBroadcast_SlowClientDropsOverflow(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	// One more than the subscriber buffer; the last store notice is dropped.
	for i := 0; i <= 64; i++ {
		b.BroadcastMsg(fmt.Sprintf("Stored 2026/10/14/20261014_093000_V%02d.jpg", i))
	}
	if len(ch) != cap(ch) {
		t.Fatalf("buffered %d events, want %d", len(ch), cap(ch))
	}
	var last StatusEvent
	for len(ch) > 0 {
		last = next(t, ch)
	}
	if last.Msg != "Stored 2026/10/14/20261014_093000_V63.jpg" {
		t.Errorf("last buffered event = %q", last.Msg)
	}
}

func TestSubscribe_DisconnectClosesStream(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	unsub()

	if _, ok := <-ch; ok {
		t.Error("stream still open after disconnect")
	}
	// The batch goroutine may still report after the client left.
	b.Broadcast("live", "View N rendered (32x24)")
}

func TestBroadcastWriter_BatchLogBurst(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	burst := "[vibecast] 2026/10/14 09:30:00.000001 [LIVE] Snapshot 1920x1080 from camera\n" +
		"\n" +
		"[vibecast] 2026/10/14 09:30:00.412000 [LIVE] View N rendered (32x24)\n" +
		"[vibecast] 2026/10/14 09:30:00.413000 [ERROR] Q: unknown direction\n" +
		"   \n" +
		"[vibecast] 2026/10/14 09:30:00.500000 [INFO] Batch 20261014_093000: 1 view(s) stored, 1 failed\n"
	n, err := BroadcastWriter(b).Write([]byte(burst))
	if err != nil || n != len(burst) {
		t.Fatalf("Write = %d, %v; want %d, nil", n, err, len(burst))
	}

	want := []StatusEvent{
		{Level: "live", Msg: "Snapshot 1920x1080 from camera"},
		{Level: "live", Msg: "View N rendered (32x24)"},
		{Level: "error", Msg: "Q: unknown direction"},
		{Level: "info", Msg: "Batch 20261014_093000: 1 view(s) stored, 1 failed"},
	}
	var got []StatusEvent
	for range want {
		evt := next(t, ch)
		evt.Time = ""
		got = append(got, evt)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	if len(ch) != 0 {
		t.Errorf("%d extra events from blank lines", len(ch))
	}
}

func TestBroadcastWriter_FromDebugLogger(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	debug.Init(debug.LevelLive)
	debug.SetOutput(BroadcastWriter(b))
	t.Cleanup(func() {
		debug.SetOutput(os.Stdout)
		debug.Init(debug.LevelOff)
	})

	debug.Live("View %s rendered (%dx%d)", "B", 32, 24)
	debug.Verbose("hidden at live level")
	debug.Error(fmt.Errorf("store: put %s: disk full", "2026/10/14/20261014_093000_B.jpg"))

	if evt := next(t, ch); evt.Level != "live" || evt.Msg != "View B rendered (32x24)" {
		t.Errorf("live event = %+v", evt)
	}
	if evt := next(t, ch); evt.Level != "error" || evt.Msg != "store: put 2026/10/14/20261014_093000_B.jpg: disk full" {
		t.Errorf("error event = %+v", evt)
	}
}

func TestSplitLogLine(t *testing.T) {
	cases := []struct {
		name, line, level, msg string
	}{
		{"live", "[vibecast] 2026/10/14 09:30:00.123456 [LIVE] View N rendered (32x24)", "live", "View N rendered (32x24)"},
		{"error", "[vibecast] 2026/10/14 09:30:00.123456 [ERROR] Q: unknown direction", "error", "Q: unknown direction"},
		{"value", "[vibecast] 2026/10/14 09:30:00.123456 [INFO]   Workers = 4", "info", "Workers = 4"},
		{"summary_title", "[vibecast] 2026/10/14 09:30:00.123456   Projection batch", "info", "Projection batch"},
		{"foreign", "rotating B_rotated", "info", "rotating B_rotated"},
		{"blank", "  ", "info", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			level, msg := splitLogLine(tc.line)
			if level != tc.level || msg != tc.msg {
				t.Errorf("splitLogLine(%q) = (%q, %q), want (%q, %q)", tc.line, level, msg, tc.level, tc.msg)
			}
		})
	}
}
