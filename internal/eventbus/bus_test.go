package eventbus

import "testing"

func TestPublishFiltersByType(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	done, unsubDone := b.Subscribe(4, "sync.finished")
	defer unsubDone()

	b.Publish(Event{Type: "sync.started"})
	b.Publish(Event{Type: "sync.finished"})

	if len(all) != 2 {
		t.Fatalf("unfiltered got %d events", len(all))
	}
	if len(done) != 1 {
		t.Fatalf("filtered got %d events", len(done))
	}
	if e := <-done; e.Type != "sync.finished" || e.Time.IsZero() {
		t.Fatalf("event = %+v", e)
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()
	for i := 0; i < 3; i++ {
		b.Publish(Event{Type: "x"})
	}
	if len(ch) != 1 || b.Dropped() != 2 {
		t.Fatalf("buffered=%d dropped=%d", len(ch), b.Dropped())
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel still open")
	}
	b.Publish(Event{Type: "after"})
}
