package hub

import (
	"strings"
	"testing"
)

func TestPublishFanOut(t *testing.T) {
	h := New(4)
	a := h.Subscribe("sse")
	b := h.Subscribe("ws")
	if a.ID == b.ID || !strings.HasPrefix(a.ID, "sse-") {
		t.Fatalf("ids = %q, %q", a.ID, b.ID)
	}

	h.Publish(Message{Type: TypeAppend, Epoch: 1, Data: "x"})
	for _, sub := range []*Subscriber{a, b} {
		select {
		case msg := <-sub.C():
			if msg.Type != TypeAppend || msg.Epoch != 1 {
				t.Fatalf("msg = %+v", msg)
			}
		default:
			t.Fatalf("%s received nothing", sub.ID)
		}
	}

	h.Unsubscribe(a)
	if h.Len() != 1 {
		t.Fatalf("Len = %d, want 1", h.Len())
	}
	h.Publish(Message{Type: TypeState})
	select {
	case msg := <-a.C():
		t.Fatalf("unsubscribed client got %+v", msg)
	default:
	}
}

func TestPublishSlowSubscriberResync(t *testing.T) {
	h := New(2)
	sub := h.Subscribe("ws")
	for i := 0; i < 5; i++ {
		h.Publish(Message{Type: TypePatch})
	}
	if sub.Dropped() != 3 {
		t.Fatalf("Dropped = %d, want 3", sub.Dropped())
	}
	if !sub.TakeResync() {
		t.Fatal("resync not flagged")
	}
	if sub.TakeResync() {
		t.Fatal("resync flag not cleared")
	}
}
