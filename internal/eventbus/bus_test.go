package eventbus

import "testing"

func TestPublishFanOut(t *testing.T) {
	t.Parallel()

	b := New()
	a, unsubA := b.Subscribe(2)
	c, unsubC := b.Subscribe(2)
	defer unsubC()

	b.Publish(Event{Type: MenuRefreshed})
	for i, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != MenuRefreshed || e.Time.IsZero() {
				t.Fatalf("sub %d got %+v", i, e)
			}
		default:
			t.Fatalf("sub %d got nothing", i)
		}
	}

	unsubA()
	unsubA()
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: MenuCleared})
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: TaskStarted})
	b.Publish(Event{Type: TaskFinished})
	if got := (<-ch).Type; got != TaskStarted {
		t.Fatalf("first=%q", got)
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected second event %+v", e)
	default:
	}
}
