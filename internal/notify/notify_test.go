package notify

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/juicer/internal/events"
)

type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) Notify(level Level, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, string(level)+":"+message)
}

type fakeBroker struct {
	got chan [2]string
}

func (f *fakeBroker) Publish(topic string, payload []byte) error {
	f.got <- [2]string{topic, string(payload)}
	return nil
}

func TestMulti(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Multi{a, b, Nop}.Notify(Warning, "provider degraded")

	for i, r := range []*recorder{a, b} {
		if len(r.msgs) != 1 || r.msgs[0] != "warning:provider degraded" {
			t.Errorf("sink %d got %v", i, r.msgs)
		}
	}
}

func TestBusNotifier(t *testing.T) {
	bus := events.NewBus(8)
	ch, cancel := bus.Subscribe(events.Filter{Types: []string{events.TypeNotification}})
	defer cancel()

	NewBus(bus).Notify(Error, "job failed")

	select {
	case ev := <-ch:
		if ev.SubType != "error" {
			t.Errorf("SubType = %q, want error", ev.SubType)
		}
		var n Notification
		if err := json.Unmarshal(ev.Data, &n); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if n.Message != "job failed" || n.ID == "" {
			t.Errorf("notification = %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestMQTTNotifier(t *testing.T) {
	broker := &fakeBroker{got: make(chan [2]string, 1)}
	NewMQTT(broker, "juicer/notifications", zerolog.Nop()).Notify(Success, "done")

	select {
	case msg := <-broker.got:
		if msg[0] != "juicer/notifications/success" {
			t.Errorf("topic = %q", msg[0])
		}
		if !strings.Contains(msg[1], `"message":"done"`) {
			t.Errorf("payload = %s", msg[1])
		}
	case <-time.After(time.Second):
		t.Fatal("nothing published")
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	NewLog(zerolog.New(&buf)).Notify(Error, "boom")
	out := buf.String()
	if !strings.Contains(out, `"level":"error"`) || !strings.Contains(out, `"message":"boom"`) {
		t.Errorf("log output = %s", out)
	}
}
