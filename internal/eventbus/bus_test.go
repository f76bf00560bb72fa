package eventbus

import "testing"

func TestPublishFansOut(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: "announce.finished", Data: "1"})
	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		if e.Type != "announce.finished" || e.Time.IsZero() {
			t.Fatalf("event = %+v, want type announce.finished with time", e)
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "first"})
	b.Publish(Event{Type: "second"})
	if e := <-ch; e.Type != "first" {
		t.Fatalf("Type = %s, want first", e.Type)
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %+v", e)
	default:
	}

	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	b.Publish(Event{Type: "after"})
}
