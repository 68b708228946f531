package scheduler

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nas-panel/telemetry-publisher/internal/probe"
)

type fakePublisher struct {
	mu    sync.Mutex
	calls []struct {
		topic   string
		payload []byte
		qos     byte
		retain  bool
	}
}

func (f *fakePublisher) Publish(topic string, payload []byte, qos byte, retain bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, struct {
		topic   string
		payload []byte
		qos     byte
		retain  bool
	}{topic, payload, qos, retain})
	return nil
}

func (f *fakePublisher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestRunOnceProducesValidJSON(t *testing.T) {
	reg := probe.New(nil, nil, nil, nil, nil)
	s := New(reg, &fakePublisher{}, nil, time.Second, "nas/panel/data", 1, "test-host", "10.0.0.5")

	data, err := s.RunOnce()
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if payload.Hostname != "test-host" {
		t.Errorf("Hostname = %q, want test-host", payload.Hostname)
	}
	if payload.IP != "10.0.0.5" {
		t.Errorf("IP = %q, want 10.0.0.5", payload.IP)
	}
}

func TestTickPublishesOncePerCall(t *testing.T) {
	reg := probe.New(nil, nil, nil, nil, nil)
	pub := &fakePublisher{}
	s := New(reg, pub, nil, 10*time.Millisecond, "nas/panel/data", 0, "h", "1.2.3.4")

	done := make(chan struct{})
	go func() {
		s.tick()
		s.tick()
		close(done)
	}()
	<-done

	if got := pub.callCount(); got != 2 {
		t.Fatalf("publish called %d times, want 2", got)
	}
}
