package telemetry

import (
	"errors"
	"testing"

	mqttcommon "owl-loadshed/common/mqtt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSubscriber struct {
	handlers     map[string]mqttcommon.MessageHandler
	unsubscribed []string
	subErr       error
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{handlers: map[string]mqttcommon.MessageHandler{}}
}

func (f *fakeSubscriber) Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error {
	if f.subErr != nil {
		return f.subErr
	}
	f.handlers[topic] = handler
	return nil
}

func (f *fakeSubscriber) Unsubscribe(topics ...string) error {
	f.unsubscribed = append(f.unsubscribed, topics...)
	return nil
}

func (f *fakeSubscriber) deliver(t *testing.T, topic string, payload string) error {
	h, ok := f.handlers["powerSources/#"]
	require.True(t, ok, "not subscribed")
	return h(topic, []byte(payload))
}

func TestMQTTSource_HandlesBranchAndRootTopics(t *testing.T) {
	sub := newFakeSubscriber()
	tr := NewTracker(zap.NewNop())
	src := NewMQTTSource(sub, "powerSources/#", 1, tr, zap.NewNop())
	require.NoError(t, src.Start())

	require.NoError(t, sub.deliver(t, "powerSources/battery", `{"status":{"currentCharge":1500,"capacity":5000}}`))
	latest, ok := tr.Latest()
	require.True(t, ok)
	assert.Equal(t, 30, latest.Battery.Percentage)

	require.NoError(t, sub.deliver(t, "powerSources", `{"solar":{"current":{"generated":15}},"grid":{"current":{"used":85}}}`))
	latest, _ = tr.Latest()
	assert.Equal(t, 15, latest.Solar.Percentage)
	assert.Equal(t, 0, latest.Battery.Percentage)
}

func TestMQTTSource_MalformedMessageIgnored(t *testing.T) {
	sub := newFakeSubscriber()
	tr := NewTracker(zap.NewNop())
	src := NewMQTTSource(sub, "powerSources/#", 1, tr, zap.NewNop())
	require.NoError(t, src.Start())

	assert.NoError(t, sub.deliver(t, "powerSources/solar", `garbage`))
	_, ok := tr.Latest()
	assert.False(t, ok)

	assert.Error(t, sub.deliver(t, "otherRoot/solar", `{}`))
}

func TestMQTTSource_StartAndClose(t *testing.T) {
	sub := newFakeSubscriber()
	src := NewMQTTSource(sub, "powerSources/#", 0, NewTracker(zap.NewNop()), zap.NewNop())
	require.NoError(t, src.Start())
	require.NoError(t, src.Close())
	assert.Equal(t, []string{"powerSources/#"}, sub.unsubscribed)

	failing := newFakeSubscriber()
	failing.subErr = errors.New("broker down")
	assert.Error(t, NewMQTTSource(failing, "powerSources/#", 0, NewTracker(zap.NewNop()), zap.NewNop()).Start())
}

func TestRootTopic(t *testing.T) {
	assert.Equal(t, "powerSources", rootTopic("powerSources/#"))
	assert.Equal(t, "powerSources", rootTopic("powerSources/+"))
	assert.Equal(t, "powerSources", rootTopic("powerSources"))
}
