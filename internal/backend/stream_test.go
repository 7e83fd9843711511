package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func collect(t *testing.T, input string) []RawEvent {
	t.Helper()
	var out []RawEvent
	if err := ReadEvents(strings.NewReader(input), func(ev RawEvent) bool {
		out = append(out, ev)
		return true
	}); err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	return out
}

func TestReadEvents(t *testing.T) {
	input := ": keepalive\n" +
		"event: thinking_start\ndata: null\n\n" +
		"event: message\r\ndata: {\"role\":\"model\",\r\ndata: \"content\":\"hi\"}\r\n\r\n" +
		"data: default name\n\n" +
		"event: ignored_without_data\n\n" +
		"id: 7\nevent: tool_end\ndata:{\"tool\":\"t\"}\n\n" +
		"event: truncated\ndata: {\"x\":"
	got := collect(t, input)
	if len(got) != 4 {
		t.Fatalf("events = %d, want 4: %+v", len(got), got)
	}
	if got[0].Name != "thinking_start" || string(got[0].Data) != "null" {
		t.Fatalf("event 0 = %+v", got[0])
	}
	if got[1].Name != "message" || string(got[1].Data) != "{\"role\":\"model\",\n\"content\":\"hi\"}" {
		t.Fatalf("event 1 = %q", got[1].Data)
	}
	if got[2].Name != "message" || string(got[2].Data) != "default name" {
		t.Fatalf("event 2 = %+v", got[2])
	}
	if got[3].Name != "tool_end" || got[3].ID != "7" || string(got[3].Data) != `{"tool":"t"}` {
		t.Fatalf("event 3 = %+v", got[3])
	}
}

func TestReadEventsStopsWhenEmitDeclines(t *testing.T) {
	input := "data: 1\n\ndata: 2\n\ndata: 3\n\n"
	n := 0
	_ = ReadEvents(strings.NewReader(input), func(RawEvent) bool {
		n++
		return n < 2
	})
	if n != 2 {
		t.Fatalf("emitted %d, want stop after 2", n)
	}
}

func TestStreamReconnects(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := conns.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: message\ndata: {\"role\":\"model\",\"content\":\"conn %d\"}\n\n", n)
		w.(http.Flusher).Flush()
		// 连接随 handler 返回而断开
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := make(chan RawEvent, 8)
	var states []bool
	done := make(chan error, 1)
	go func() {
		done <- c.Stream(ctx, out, StreamOptions{
			Reconnect: 20 * time.Millisecond,
			OnState:   func(connected bool) { states = append(states, connected) },
		})
	}()

	for i := 1; i <= 3; i++ {
		select {
		case ev := <-out:
			if !strings.Contains(string(ev.Data), fmt.Sprintf("conn %d", i)) {
				t.Fatalf("event %d = %s", i, ev.Data)
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for reconnect")
		}
	}
	cancel()
	if err := <-done; err == nil {
		t.Fatal("Stream should return ctx error after cancel")
	}
	if len(states) < 2 || !states[0] {
		t.Fatalf("states = %v", states)
	}
}
