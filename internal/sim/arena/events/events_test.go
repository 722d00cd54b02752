package events

import "testing"

func TestBusDeliversToSubscribers(t *testing.T) {
	b := NewBus()
	a, cancelA := b.Subscribe(4)
	c, cancelC := b.Subscribe(4)
	defer cancelC()

	b.Emit(New(WaveStarted))
	if ev := <-a; ev.Kind != WaveStarted {
		t.Fatalf("sub a got %s", ev.Kind)
	}
	if ev := <-c; ev.Kind != WaveStarted {
		t.Fatalf("sub c got %s", ev.Kind)
	}

	cancelA()
	cancelA()
	if _, ok := <-a; ok {
		t.Fatalf("expected closed channel after cancel")
	}
	if n := b.Subscribers(); n != 1 {
		t.Fatalf("subscribers: got %d want 1", n)
	}
}

func TestBusDropsWhenFull(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1)
	defer cancel()
	b.Emit(New(RouteUpdated))
	b.Emit(New(RouteUpdated))
	if got := b.Dropped(); got != 1 {
		t.Fatalf("dropped: got %d want 1", got)
	}
	<-ch
}

func TestMultiSkipsNil(t *testing.T) {
	var got []Kind
	m := Multi{nil, SinkFunc(func(ev Event) { got = append(got, ev.Kind) }), Discard{}}
	m.Emit(New(FieldReset))
	if len(got) != 1 || got[0] != FieldReset {
		t.Fatalf("unexpected deliveries: %v", got)
	}
}

func TestNewDefaultsEntrance(t *testing.T) {
	if ev := New(ActivationBegun); ev.Entrance != -1 || ev.At.IsZero() {
		t.Fatalf("unexpected defaults: %+v", ev)
	}
}
