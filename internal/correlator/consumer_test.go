package correlator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestConsumer(t *testing.T, handle ResultHandler) *Consumer {
	t.Helper()
	trust := NewTrustStore(0.9)
	fuser := NewFuser(trust, zaptest.NewLogger(t))
	return NewConsumer(nil, NewWindows(5*time.Second), fuser, trust, handle, zaptest.NewLogger(t))
}

func ingestMsg(t *testing.T, subject string, rec interface{}) *nats.Msg {
	t.Helper()
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	return &nats.Msg{Subject: subject, Data: data}
}

func TestProcessIngest_AddsToWindow(t *testing.T) {
	c := newTestConsumer(t, nil)
	c.processIngest(ingestMsg(t, "uer.ingest.acme", evidence("MQTT", 0.8, 0.9)))
	assert.Equal(t, 1, c.windows.Open())
}

func TestProcessIngest_MalformedDropped(t *testing.T) {
	c := newTestConsumer(t, nil)
	c.processIngest(&nats.Msg{Subject: "uer.ingest.acme", Data: []byte(`{nope`)})
	assert.Equal(t, 0, c.windows.Open())
}

func TestProcessIngest_TenantFallsBackToSubject(t *testing.T) {
	c := newTestConsumer(t, nil)
	rec := evidence("MQTT", 0.8, 0.9)
	rec.Tenant = ""
	c.processIngest(ingestMsg(t, "uer.ingest.globex", rec))

	due := c.windows.Due(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC))
	require.Len(t, due, 1)
	for key := range due {
		assert.Equal(t, "globex", key.Tenant)
	}
}

func TestProcessIngest_UnparseableTimestampDropped(t *testing.T) {
	c := newTestConsumer(t, nil)
	rec := evidence("MQTT", 0.8, 0.9)
	rec.TS = "yesterday-ish"
	c.processIngest(ingestMsg(t, "uer.ingest.acme", rec))
	assert.Equal(t, 0, c.windows.Open())
}

func TestProcessOutcome_LabelUpdatesTrust(t *testing.T) {
	c := newTestConsumer(t, nil)
	c.processOutcome(&nats.Msg{
		Subject: "afl.outcome.acme",
		Data:    []byte(`{"agent":"mqtt","label":"tp"}`),
	})
	assert.InDelta(t, 0.73, c.trust.Weight("acme", "mqtt"), 1e-9)

	c.processOutcome(&nats.Msg{
		Subject: "afl.outcome.acme",
		Data:    []byte(`{"agent":"mqtt","label":"fp"}`),
	})
	assert.InDelta(t, 0.657, c.trust.Weight("acme", "mqtt"), 1e-9)
}

func TestProcessOutcome_ExplicitAccuracyWins(t *testing.T) {
	c := newTestConsumer(t, nil)
	c.processOutcome(&nats.Msg{
		Subject: "afl.outcome.acme",
		Data:    []byte(`{"agent":"mqtt","label":"fp","accuracy":0.8}`),
	})
	assert.InDelta(t, 0.71, c.trust.Weight("acme", "mqtt"), 1e-9)
}

func TestProcessOutcome_UnknownLabelIgnored(t *testing.T) {
	c := newTestConsumer(t, nil)
	c.processOutcome(&nats.Msg{
		Subject: "afl.outcome.acme",
		Data:    []byte(`{"agent":"mqtt","label":"maybe"}`),
	})
	assert.Equal(t, 0.7, c.trust.Weight("acme", "mqtt"))
}

func TestProcessOutcome_MalformedDropped(t *testing.T) {
	c := newTestConsumer(t, nil)
	c.processOutcome(&nats.Msg{Subject: "afl.outcome.acme", Data: []byte(`not json`)})
	assert.Equal(t, 0.7, c.trust.Weight("acme", "mqtt"))
}

func TestSweep_EmitsClosedWindows(t *testing.T) {
	var results []*GCResult
	c := newTestConsumer(t, func(_ context.Context, res *GCResult) {
		results = append(results, res)
	})
	c.now = func() time.Time { return time.Date(2026, 3, 14, 12, 0, 6, 0, time.UTC) }

	c.processIngest(ingestMsg(t, "uer.ingest.acme", evidence("MQTT", 0.8, 0.9)))
	c.processIngest(ingestMsg(t, "uer.ingest.acme", evidence("HTTP", 0.4, 0.8)))

	c.sweep(context.Background())
	require.Len(t, results, 1)
	assert.InDelta(t, 0.6, results[0].Posterior, 1e-9)
	assert.Equal(t, 0, c.windows.Open())

	c.sweep(context.Background())
	assert.Len(t, results, 1, "closed windows are emitted once")
}

func TestSweep_SkipsWindowsWithNoValidEvidence(t *testing.T) {
	var results []*GCResult
	c := newTestConsumer(t, func(_ context.Context, res *GCResult) {
		results = append(results, res)
	})
	c.now = func() time.Time { return time.Date(2026, 3, 14, 12, 0, 6, 0, time.UTC) }

	rec := evidence("MQTT", 0.8, 0.9)
	rec.Detector.Conf = 1.7
	c.processIngest(ingestMsg(t, "uer.ingest.acme", rec))

	c.sweep(context.Background())
	assert.Empty(t, results)
	assert.Equal(t, 0, c.windows.Open(), "window is consumed even when nothing fuses")
}

func TestOutcomeAccuracy(t *testing.T) {
	eighty := 0.8
	tests := []struct {
		name string
		ev   outcomeEvent
		want float64
		ok   bool
	}{
		{"true positive", outcomeEvent{Label: "tp"}, 1.0, true},
		{"true negative", outcomeEvent{Label: "tn"}, 1.0, true},
		{"false positive", outcomeEvent{Label: "fp"}, 0.0, true},
		{"false negative", outcomeEvent{Label: "fn"}, 0.0, true},
		{"explicit overrides label", outcomeEvent{Label: "fp", Accuracy: &eighty}, 0.8, true},
		{"unknown label", outcomeEvent{Label: "benign"}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := outcomeAccuracy(tt.ev)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestTenantFromSubject(t *testing.T) {
	assert.Equal(t, "acme", tenantFromSubject("uer.ingest.acme"))
	assert.Equal(t, "globex", tenantFromSubject("afl.outcome.globex"))
	assert.Equal(t, "", tenantFromSubject("uer.ingest"))
}
