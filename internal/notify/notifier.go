package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"qc-review/internal/config"
	"qc-review/internal/models"
	"qc-review/internal/telemetry"
)

// Notifier tells observers that a decision has committed.
type Notifier interface {
	Notify(ctx context.Context, ev models.TransitionEvent) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, models.TransitionEvent) error { return nil }
func (Nop) Close() error                                         { return nil }

// Sink is a named Notifier inside a Multi.
type Sink struct {
	Name     string
	Notifier Notifier
}

// Multi fans an event out to every sink. One failing sink does not stop the rest.
type Multi struct {
	sinks []Sink
}

func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Notify(ctx context.Context, ev models.TransitionEvent) error {
	var failures []error
	for _, s := range m.sinks {
		if err := s.Notifier.Notify(ctx, ev); err != nil {
			telemetry.NotifyFailures.WithLabelValues(s.Name).Inc()
			failures = append(failures, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(failures...)
}

func (m *Multi) Close() error {
	var failures []error
	for _, s := range m.sinks {
		if err := s.Notifier.Close(); err != nil {
			failures = append(failures, fmt.Errorf("close %s: %w", s.Name, err))
		}
	}
	return errors.Join(failures...)
}

// Build assembles the sinks named in cfg.NotifySinks. client may be nil when
// redis is not among them.
func Build(cfg config.Config, client *redis.Client) (Notifier, error) {
	if len(cfg.NotifySinks) == 0 {
		return Nop{}, nil
	}
	sinks := make([]Sink, 0, len(cfg.NotifySinks))
	for _, name := range cfg.NotifySinks {
		switch name {
		case "redis":
			if client == nil {
				return nil, errors.New("redis sink requires a redis client")
			}
			sinks = append(sinks, Sink{Name: name, Notifier: NewRedisPublisher(client, cfg.NotifyChannel, cfg.NotifyStream, cfg.NotifyStreamMaxLen)})
		case "kafka":
			producer, err := NewKafkaPublisher(KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, Sink{Name: name, Notifier: producer})
		default:
			return nil, fmt.Errorf("unknown notify sink %q", name)
		}
	}
	return NewMulti(sinks...), nil
}
