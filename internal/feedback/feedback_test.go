package feedback

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policies.json")
	return NewStore(path, map[string]float64{"http": 0.75}, zaptest.NewLogger(t))
}

func mqttPolicy(ts string, threshold float64) Policy {
	return Policy{
		Agent:      "mqtt",
		Thresholds: Thresholds{ScoreAlert: threshold},
		Sampling:   Sampling{Rate: 0.85},
		Trust:      Trust{W: 0.82, Decay: 0.9},
		TS:         ts,
		Schema:     SchemaVersion,
	}
}

func TestApplyAndLookup(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.Apply(mqttPolicy("2026-08-26T10:00:00Z", 0.65)))

	assert.Equal(t, 0.65, s.Threshold("mqtt"))
	assert.Equal(t, 0.85, s.SamplingRate("mqtt"))

	p, ok := s.Policy("mqtt")
	require.True(t, ok)
	assert.Equal(t, 0.82, p.Trust.W)

	// No policy yet: configured default, then the global fallback.
	assert.Equal(t, 0.75, s.Threshold("http"))
	assert.Equal(t, 0.7, s.Threshold("coap"))
	assert.Equal(t, 1.0, s.SamplingRate("coap"))
}

func TestApplyNewestTimestampWins(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.Apply(mqttPolicy("2026-08-26T10:00:00Z", 0.65)))
	require.NoError(t, s.Apply(mqttPolicy("2026-08-26T09:00:00Z", 0.9)))
	assert.Equal(t, 0.65, s.Threshold("mqtt"), "an older policy never overrides a newer one")

	require.NoError(t, s.Apply(mqttPolicy("2026-08-26T11:00:00Z", 0.58)))
	assert.Equal(t, 0.58, s.Threshold("mqtt"))
}

func TestApplyRedeliveryIsIdempotent(t *testing.T) {
	s := testStore(t)

	p := mqttPolicy("2026-08-26T10:00:00Z", 0.65)
	require.NoError(t, s.Apply(p))
	require.NoError(t, s.Apply(p))

	assert.Len(t, s.All(), 1)
	assert.Equal(t, 0.65, s.Threshold("mqtt"))
}

func TestApplyRejectsBadPolicies(t *testing.T) {
	s := testStore(t)

	err := s.Apply(Policy{TS: "2026-08-26T10:00:00Z"})
	assert.ErrorIs(t, err, ErrInvalidPolicy)

	err = s.Apply(Policy{Agent: "mqtt", TS: "yesterday"})
	assert.ErrorIs(t, err, ErrInvalidPolicy)

	bad := mqttPolicy("2026-08-26T10:00:00Z", 1.4)
	err = s.Apply(bad)
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestApplyPersistsBeforeReturning(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.json")
	s := NewStore(path, nil, zaptest.NewLogger(t))

	require.NoError(t, s.Apply(mqttPolicy("2026-08-26T10:00:00Z", 0.65)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var onDisk map[string]Policy
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, 0.65, onDisk["mqtt"].Thresholds.ScoreAlert)

	// The temp file used for the atomic replace is gone.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "policies.json", entries[0].Name())
}

func TestLoadRestoresState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.json")

	first := NewStore(path, nil, zaptest.NewLogger(t))
	require.NoError(t, first.Apply(mqttPolicy("2026-08-26T10:00:00Z", 0.65)))

	second := NewStore(path, nil, zaptest.NewLogger(t))
	require.NoError(t, second.Load())
	assert.Equal(t, 0.65, second.Threshold("mqtt"))
}

func TestLoadMissingFile(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "absent.json"), nil, zaptest.NewLogger(t))
	assert.NoError(t, s.Load())
	assert.Empty(t, s.All())
}
