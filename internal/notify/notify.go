// Package notify delivers fire-and-forget user notifications.
package notify

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/juicer/internal/events"
)

type Level string

const (
	Info    Level = "info"
	Success Level = "success"
	Warning Level = "warning"
	Error   Level = "error"
)

// Notification is the payload delivered to every sink.
type Notification struct {
	ID      string    `json:"id"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Notifier is the one-way notification channel. Implementations must not
// block the caller for long and never report failure back.
type Notifier interface {
	Notify(level Level, message string)
}

func newNotification(level Level, message string) Notification {
	return Notification{
		ID:      uuid.NewString(),
		Level:   level,
		Message: message,
		Time:    time.Now().UTC(),
	}
}

// Nop drops every notification.
var Nop Notifier = nop{}

type nop struct{}

func (nop) Notify(Level, string) {}

// Log writes notifications to a zerolog logger.
type Log struct {
	log zerolog.Logger
}

func NewLog(log zerolog.Logger) *Log {
	return &Log{log: log.With().Str("component", "notify").Logger()}
}

func (l *Log) Notify(level Level, message string) {
	var ev *zerolog.Event
	switch level {
	case Error:
		ev = l.log.Error()
	case Warning:
		ev = l.log.Warn()
	default:
		ev = l.log.Info()
	}
	ev.Str("level_hint", string(level)).Msg(message)
}

// Bus publishes notifications as events so stream clients can show them.
type Bus struct {
	pub events.Publisher
}

func NewBus(pub events.Publisher) *Bus {
	return &Bus{pub: pub}
}

func (b *Bus) Notify(level Level, message string) {
	b.pub.Publish(events.Data{
		Type:    events.TypeNotification,
		SubType: string(level),
		Payload: newNotification(level, message),
	})
}

// MessagePublisher is satisfied by *mqttclient.Client.
type MessagePublisher interface {
	Publish(topic string, payload []byte) error
}

// MQTT publishes notifications as JSON to a broker topic. Publishing runs
// in its own goroutine so a slow broker never stalls a job.
type MQTT struct {
	client MessagePublisher
	topic  string
	log    zerolog.Logger
}

func NewMQTT(client MessagePublisher, topic string, log zerolog.Logger) *MQTT {
	return &MQTT{
		client: client,
		topic:  topic,
		log:    log.With().Str("component", "notify-mqtt").Logger(),
	}
}

func (m *MQTT) Notify(level Level, message string) {
	payload, err := json.Marshal(newNotification(level, message))
	if err != nil {
		return
	}
	go func() {
		if err := m.client.Publish(m.topic+"/"+string(level), payload); err != nil {
			m.log.Warn().Err(err).Msg("notification publish failed")
		}
	}()
}

// Multi fans a notification out to several sinks.
type Multi []Notifier

func (m Multi) Notify(level Level, message string) {
	for _, n := range m {
		n.Notify(level, message)
	}
}
