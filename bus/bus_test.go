package bus

import (
	"testing"

	"github.com/PaulFidika/accesskit/entitlements"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ev(kind entitlements.EventKind, course string) entitlements.Event {
	return entitlements.Event{Kind: kind, CourseID: course}
}

func TestPublishDeliversInRegistrationOrder(t *testing.T) {
	b := New(nil)
	var got []string
	b.Subscribe(entitlements.EventUpdated, func(entitlements.Event) { got = append(got, "first") })
	b.SubscribeAll(func(entitlements.Event) { got = append(got, "all") })
	b.Subscribe(entitlements.EventUpdated, func(entitlements.Event) { got = append(got, "second") })
	b.Subscribe(entitlements.EventCompleted, func(entitlements.Event) { got = append(got, "completed") })

	b.Publish(ev(entitlements.EventUpdated, "c"))
	assert.Equal(t, []string{"first", "all", "second"}, got)
}

func TestUnsubscribeRemovesOnlyThatHandler(t *testing.T) {
	b := New(nil)
	var a, c int
	unA := b.Subscribe(entitlements.EventStarted, func(entitlements.Event) { a++ })
	b.Subscribe(entitlements.EventStarted, func(entitlements.Event) { c++ })

	unA()
	unA()
	b.Publish(ev(entitlements.EventStarted, "x"))
	assert.Equal(t, 0, a)
	assert.Equal(t, 1, c)
	assert.Equal(t, 1, b.Len())
}

func TestSameHandlerRegisteredTwiceIsTwoSubscriptions(t *testing.T) {
	b := New(nil)
	n := 0
	h := func(entitlements.Event) { n++ }
	un1 := b.Subscribe(entitlements.EventStarted, h)
	b.Subscribe(entitlements.EventStarted, h)
	un1()
	b.Publish(ev(entitlements.EventStarted, "x"))
	assert.Equal(t, 1, n)
}

func TestNoDeliveryToLateSubscribers(t *testing.T) {
	b := New(nil)
	b.Publish(ev(entitlements.EventCompleted, "x"))
	n := 0
	b.Subscribe(entitlements.EventCompleted, func(entitlements.Event) { n++ })
	assert.Equal(t, 0, n)
}

func TestSubscribeDuringPublishSeesNextEventOnly(t *testing.T) {
	b := New(nil)
	late := 0
	b.Subscribe(entitlements.EventUpdated, func(entitlements.Event) {
		b.Subscribe(entitlements.EventUpdated, func(entitlements.Event) { late++ })
	})
	b.Publish(ev(entitlements.EventUpdated, "x"))
	assert.Equal(t, 0, late)
	b.Publish(ev(entitlements.EventUpdated, "x"))
	assert.Equal(t, 1, late)
}

func TestPanickingHandlerDoesNotStopDelivery(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	b := New(logger)
	reached := false
	b.Subscribe(entitlements.EventUpdated, func(entitlements.Event) { panic("boom") })
	b.Subscribe(entitlements.EventUpdated, func(entitlements.Event) { reached = true })

	require.NotPanics(t, func() { b.Publish(ev(entitlements.EventUpdated, "x")) })
	assert.True(t, reached)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "event handler panicked", hook.LastEntry().Message)
}
