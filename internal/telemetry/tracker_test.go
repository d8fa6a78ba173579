package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTracker_ApplyBranchesRecomputesAll(t *testing.T) {
	tr := NewTracker(zap.NewNop())

	require.NoError(t, tr.Apply([]string{"solar"}, []byte(`{"current":{"generated":200}}`)))
	require.NoError(t, tr.Apply([]string{"grid", "current"}, []byte(`{"used":800}`)))
	require.NoError(t, tr.Apply([]string{"battery"}, []byte(`{"status":{"currentCharge":1750,"capacity":5000}}`)))

	latest, ok := tr.Latest()
	require.True(t, ok)
	assert.Equal(t, 20, latest.Solar.Percentage)
	assert.Equal(t, 80, latest.Grid.Percentage)
	assert.Equal(t, 35, latest.Battery.Percentage)
}

func TestTracker_ReplaceWholeDocument(t *testing.T) {
	tr := NewTracker(zap.NewNop())

	require.NoError(t, tr.Apply([]string{"battery"}, []byte(`{"status":{"currentCharge":1000,"capacity":2000}}`)))
	require.NoError(t, tr.Apply(nil, []byte(`{"solar":{"current":{"generated":50}}}`)))

	latest, _ := tr.Latest()
	assert.Equal(t, 0, latest.Battery.Percentage)
	assert.Equal(t, 100, latest.Solar.Percentage)

	require.NoError(t, tr.Apply(nil, []byte(`null`)))
	latest, _ = tr.Latest()
	assert.Equal(t, 0, latest.Solar.Percentage)
}

func TestTracker_InvalidFieldTreatedAsMissing(t *testing.T) {
	tr := NewTracker(zap.NewNop())

	require.NoError(t, tr.Apply([]string{"battery"}, []byte(`{"status":{"currentCharge":"full","capacity":5000}}`)))
	require.NoError(t, tr.Apply([]string{"solar"}, []byte(`{"current":{"generated":10}}`)))

	latest, _ := tr.Latest()
	assert.Equal(t, 0, latest.Battery.Percentage)
	assert.Equal(t, 100, latest.Solar.Percentage)
}

func TestTracker_MalformedPayloadRejected(t *testing.T) {
	tr := NewTracker(zap.NewNop())

	err := tr.Apply([]string{"solar"}, []byte(`{not json`))
	assert.Error(t, err)

	_, ok := tr.Latest()
	assert.False(t, ok)
}

func TestTracker_ChannelKeepsOnlyLatest(t *testing.T) {
	tr := NewTracker(zap.NewNop())

	require.NoError(t, tr.Apply([]string{"battery"}, []byte(`{"status":{"currentCharge":4000,"capacity":5000}}`)))
	require.NoError(t, tr.Apply([]string{"battery"}, []byte(`{"status":{"currentCharge":3000,"capacity":5000}}`)))
	require.NoError(t, tr.Apply([]string{"battery"}, []byte(`{"status":{"currentCharge":1000,"capacity":5000}}`)))

	got := <-tr.Readings()
	assert.Equal(t, 20, got.Battery.Percentage)

	select {
	case extra := <-tr.Readings():
		t.Fatalf("unexpected extra reading: %+v", extra)
	default:
	}
}
