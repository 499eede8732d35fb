package camera

import "testing"

func TestBusFanOut(t *testing.T) {
	b := NewBus[int]()
	s1 := b.Subscribe(4)
	s2 := b.Subscribe(4)

	b.Publish(1)
	b.Publish(2)

	for _, s := range []*Subscription[int]{s1, s2} {
		if got := <-s.C(); got != 1 {
			t.Errorf("first = %d, want 1", got)
		}
		if got := <-s.C(); got != 2 {
			t.Errorf("second = %d, want 2", got)
		}
	}
}

func TestBusDropsOldest(t *testing.T) {
	b := NewBus[int]()
	s := b.Subscribe(2)

	for i := 1; i <= 5; i++ {
		b.Publish(i)
	}

	if got := <-s.C(); got != 4 {
		t.Errorf("first = %d, want 4", got)
	}
	if got := <-s.C(); got != 5 {
		t.Errorf("second = %d, want 5", got)
	}
	if b.Dropped() != 3 {
		t.Errorf("Dropped() = %d, want 3", b.Dropped())
	}
}

func TestBusSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := NewBus[int]()
	slow := b.Subscribe(1)
	fast := b.Subscribe(100)

	for i := 0; i < 50; i++ {
		b.Publish(i)
	}
	if len(fast.C()) != 50 {
		t.Errorf("fast subscriber got %d items, want 50", len(fast.C()))
	}
	if got := <-slow.C(); got != 49 {
		t.Errorf("slow subscriber latest = %d, want 49", got)
	}
}

func TestBusClose(t *testing.T) {
	b := NewBus[int]()
	s := b.Subscribe(1)
	other := b.Subscribe(1)

	s.Close()
	s.Close()
	if _, ok := <-s.C(); ok {
		t.Error("closed subscription channel should be closed")
	}
	if b.Subscribers() != 1 {
		t.Errorf("Subscribers() = %d, want 1", b.Subscribers())
	}

	b.Close()
	if _, ok := <-other.C(); ok {
		t.Error("bus close should close subscriptions")
	}
	b.Publish(1)

	late := b.Subscribe(1)
	if _, ok := <-late.C(); ok {
		t.Error("subscription on closed bus should be closed")
	}
	late.Close()
}
