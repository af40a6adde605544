// Package redisbus pushes entitlement events between browsing contexts over Redis Pub/Sub.
// It is optional: contexts sharing an intent store converge by polling anyway.
package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/PaulFidika/accesskit/bus"
	"github.com/PaulFidika/accesskit/entitlements"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const DefaultChannel = "accesskit:entitlement-events"

type message struct {
	Origin   string              `json:"origin"`
	Kind     string              `json:"kind"`
	CourseID string              `json:"courseId"`
	Intent   entitlements.Intent `json:"intent"`
	Terminal bool                `json:"terminal,omitempty"`
}

// Relay mirrors local bus events to a Redis channel and republishes events from
// other origins on the local bus.
type Relay struct {
	rdb     *redis.Client
	bus     *bus.Bus
	channel string
	origin  string
	log     logrus.FieldLogger

	mu     sync.Mutex
	pubsub *redis.PubSub
	unsub  func()
	done   chan struct{}
}

func New(rdb *redis.Client, b *bus.Bus, channel string, log logrus.FieldLogger) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	origin := uuid.NewString()
	return &Relay{
		rdb:     rdb,
		bus:     b,
		channel: channel,
		origin:  origin,
		log:     log.WithFields(logrus.Fields{"component": "redisbus", "origin": origin}),
	}
}

// Origin identifies this relay on the shared channel.
func (r *Relay) Origin() string { return r.origin }

// Start subscribes to the channel and begins forwarding. It returns once the
// subscription is confirmed by Redis.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubsub != nil {
		return errors.New("redisbus: relay already started")
	}
	ps := r.rdb.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return err
	}
	r.pubsub = ps
	r.done = make(chan struct{})
	r.unsub = r.bus.SubscribeAll(r.forward)
	go r.receive(ps.Channel(), r.done)
	return nil
}

func (r *Relay) forward(ev entitlements.Event) {
	if ev.Origin != "" {
		return
	}
	b, err := json.Marshal(message{
		Origin:   r.origin,
		Kind:     ev.Kind.String(),
		CourseID: ev.CourseID,
		Intent:   ev.Intent,
		Terminal: ev.Terminal,
	})
	if err != nil {
		r.log.WithError(err).Warn("encode event")
		return
	}
	if err := r.rdb.Publish(context.Background(), r.channel, b).Err(); err != nil {
		r.log.WithField("course_id", ev.CourseID).WithError(err).Warn("publish event")
	}
}

func (r *Relay) receive(ch <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	for m := range ch {
		var msg message
		if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
			r.log.WithError(err).Debug("dropping malformed event")
			continue
		}
		if msg.Origin == r.origin || msg.Origin == "" {
			continue
		}
		kind, ok := entitlements.ParseEventKind(msg.Kind)
		if !ok {
			continue
		}
		r.bus.Publish(entitlements.Event{
			Kind:     kind,
			CourseID: msg.CourseID,
			Intent:   msg.Intent,
			Terminal: msg.Terminal,
			Origin:   msg.Origin,
		})
	}
}

// Close stops forwarding and waits for the receive loop to exit. Safe to call more than once.
func (r *Relay) Close() error {
	r.mu.Lock()
	ps, unsub, done := r.pubsub, r.unsub, r.done
	r.pubsub, r.unsub = nil, nil
	r.mu.Unlock()
	if ps == nil {
		return nil
	}
	unsub()
	err := ps.Close()
	<-done
	return err
}
