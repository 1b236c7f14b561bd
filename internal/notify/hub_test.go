package notify

import (
	"sync"
	"testing"
	"time"
)

func TestSubscribeNotifyDelivers(t *testing.T) {
	h := NewHub()
	var mu sync.Mutex
	var got Payload
	done := make(chan struct{})

	h.Subscribe("sub1", "agent1", "session://s1", func(p Payload) error {
		mu.Lock()
		got = p
		mu.Unlock()
		close(done)
		return nil
	})

	h.Notify("session://s1", 10, Payload{Type: "new_message", Data: "hi"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notification not delivered in time")
	}

	mu.Lock()
	defer mu.Unlock()
	if got.Type != "new_message" {
		t.Errorf("delivered payload type = %q, want new_message", got.Type)
	}
}

func TestNotifyDebounceCoalesces(t *testing.T) {
	h := NewHub()
	var count int
	var mu sync.Mutex
	done := make(chan struct{})

	h.Subscribe("sub1", "agent1", "session://s1", func(p Payload) error {
		mu.Lock()
		count++
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	})

	for i := 0; i < 5; i++ {
		h.Notify("session://s1", 30, Payload{Type: "new_message"})
	}

	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("rapid Notify calls delivered %d times, want 1 (debounced)", count)
	}
}

func TestFailedDeliveryUnsubscribes(t *testing.T) {
	h := NewHub()
	h.Subscribe("bad", "agent1", "session://s1", func(p Payload) error {
		return errAlwaysFail
	})

	h.Notify("session://s1", 10, Payload{Type: "new_message"})
	time.Sleep(50 * time.Millisecond)

	st := h.stateFor("session://s1")
	st.mu.Lock()
	_, stillSubscribed := st.subs["bad"]
	st.mu.Unlock()
	if stillSubscribed {
		t.Errorf("failing subscriber was not removed after delivery error")
	}
}

func TestReapRemovesIdleSubscribers(t *testing.T) {
	h := NewHub()
	h.Subscribe("idle1", "agent1", "session://s1", func(Payload) error { return nil })

	h.seenM.Lock()
	h.seen["idle1"] = time.Now().Add(-time.Hour)
	h.seenM.Unlock()

	n := h.Reap(time.Minute)
	if n != 1 {
		t.Errorf("Reap() removed %d subscribers, want 1", n)
	}
}

func TestAuthorizedForMemoryResource(t *testing.T) {
	if !authorizedFor("agent://a1/memory", "a1") {
		t.Errorf("owner should be authorized")
	}
	if authorizedFor("agent://a1/memory", "a2") {
		t.Errorf("non-owner should not be authorized")
	}
	if !authorizedFor("session://s1", "anyone") {
		t.Errorf("session resources should not restrict by agent")
	}
}

type fakeErr struct{}

func (fakeErr) Error() string { return "delivery failed" }

var errAlwaysFail = fakeErr{}
