package events

import (
	"sync"
	"testing"
	"time"
)

func TestBus_Subscribe(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.Subscribe()
	bus.Publish(NewWorkerEvent(TypeWorkerSpawned, "RestApiWorker", 101, ""))

	select {
	case received := <-ch:
		if received.EventType() != TypeWorkerSpawned {
			t.Errorf("expected %s, got %s", TypeWorkerSpawned, received.EventType())
		}
		if received.WorkerName() != "RestApiWorker" {
			t.Errorf("expected RestApiWorker, got %s", received.WorkerName())
		}
		we, ok := received.(WorkerEvent)
		if !ok || we.PID != 101 {
			t.Errorf("unexpected payload %#v", received)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for event")
	}
}

func TestBus_SubscribeByType(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	lifecycle := bus.Subscribe(TypeWorkerSpawned, TypeWorkerKilled)
	all := bus.Subscribe()

	bus.Publish(NewMessageEvent(TypeMessageDelivered, "A", "m1"))
	bus.Publish(NewWorkerEvent(TypeWorkerKilled, "A", 1, "shutdown"))

	for i := 0; i < 2; i++ {
		select {
		case <-all:
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("all should receive event %d", i)
		}
	}

	select {
	case received := <-lifecycle:
		if received.EventType() != TypeWorkerKilled {
			t.Errorf("expected worker_killed, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("lifecycle subscriber should receive worker_killed")
	}
	select {
	case extra := <-lifecycle:
		t.Errorf("unexpected event %s", extra.EventType())
	default:
	}
}

func TestBus_RingBufferDropsOldest(t *testing.T) {
	bus := New(2)
	defer bus.Close()

	ch := bus.Subscribe()
	for _, id := range []string{"m1", "m2", "m3"} {
		bus.Publish(NewMessageEvent(TypeMessagePending, "A", id))
	}

	if got := bus.DroppedCount(); got != 1 {
		t.Errorf("DroppedCount() = %d, want 1", got)
	}
	first := (<-ch).(MessageEvent)
	second := (<-ch).(MessageEvent)
	if first.MessageID != "m2" || second.MessageID != "m3" {
		t.Errorf("got %s, %s; want m2, m3", first.MessageID, second.MessageID)
	}
}

func TestBus_PriorityNeverDrops(t *testing.T) {
	bus := New(1)
	defer bus.Close()

	priority := bus.SubscribePriority(TypeWorkerCrashed)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 60; i++ {
			bus.Publish(NewWorkerEvent(TypeWorkerCrashed, "A", i, ""))
		}
	}()

	for i := 0; i < 60; i++ {
		select {
		case ev := <-priority:
			if ev.(WorkerEvent).PID != i {
				t.Fatalf("event %d out of order: pid %d", i, ev.(WorkerEvent).PID)
			}
		case <-time.After(time.Second):
			t.Fatalf("priority event %d not received", i)
		}
	}
	wg.Wait()
	if bus.DroppedCount() != 0 {
		t.Errorf("DroppedCount() = %d, want 0", bus.DroppedCount())
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.Subscribe()
	bus.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	bus.Publish(NewWorkerEvent(TypeWorkerSpawned, "A", 1, ""))
}

func TestBus_CloseClosesSubscribers(t *testing.T) {
	bus := New(10)
	ch := bus.Subscribe()
	bus.Close()
	bus.Close()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Close")
	}
	// Publishing after close is a no-op.
	bus.Publish(NewWorkerEvent(TypeWorkerSpawned, "A", 1, ""))

	late := bus.Subscribe()
	if _, ok := <-late; ok {
		t.Error("subscribing to a closed bus should return a closed channel")
	}
}

func TestNewHeartbeatEvent(t *testing.T) {
	ev := NewHeartbeatEvent("DatabaseInteractionWorker", 7, true)
	if ev.EventType() != TypeHeartbeat || !ev.Healthy || ev.PID != 7 {
		t.Errorf("unexpected event %#v", ev)
	}
	if ev.Timestamp().IsZero() {
		t.Error("timestamp should be set")
	}
}
