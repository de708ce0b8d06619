package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type published struct {
	subject string
	msgID   string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(subject, msgID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject: subject, msgID: msgID, data: data})
	return nil
}

func (f *fakePublisher) all() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.msgs...)
}

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *fakePublisher, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	pub := &fakePublisher{}
	svc := NewService(NewRedisCache(rdb), pub, zaptest.NewLogger(t))
	svc.now = func() time.Time { return testNow }
	return svc, pub, mr
}

func testUID(seed string) string {
	return strings.Repeat(seed, 64/len(seed))
}

func makeRecord(t *testing.T, uid string, ts time.Time, extra map[string]any) []byte {
	t.Helper()
	rec := map[string]any{
		"ts":         ts.UTC().Format(time.RFC3339Nano),
		"src":        map[string]any{"ip": "10.0.0.1", "port": 52100},
		"dst":        map[string]any{"ip": "10.0.0.2", "port": 1883},
		"proto":      map[string]any{"l7": "MQTT"},
		"stats":      map[string]any{"len_mean": 120.5},
		"detector":   map[string]any{"score": 0.82, "conf": 0.85, "model": "mqtt-v1"},
		"entities":   []string{"device_id"},
		"attck_hint": []string{"T1041"},
	}
	if uid != "" {
		rec["uid"] = uid
	}
	for k, v := range extra {
		rec[k] = v
	}
	b, err := json.Marshal(rec)
	require.NoError(t, err)
	return b
}

func TestIngest_ForwardsAndAnnotates(t *testing.T) {
	svc, pub, _ := newTestService(t)
	uid := testUID("ab")

	raw := makeRecord(t, uid, testNow.Add(-time.Minute), map[string]any{"x_vendor": "acme-lab"})
	res, err := svc.Ingest(context.Background(), "acme", "acme-plant1-a1b2", raw)
	require.NoError(t, err)
	assert.Equal(t, "ingested", res.Status)
	assert.Equal(t, uid, res.UID)

	msgs := pub.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "uer.ingest.acme", msgs[0].subject)
	assert.Equal(t, uid, msgs[0].msgID)

	var fwd map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].data, &fwd))
	assert.Equal(t, "acme", fwd["tenant"])
	assert.Equal(t, "acme-plant1-a1b2", fwd["agent_id"])
	assert.Equal(t, testNow.Format(time.RFC3339Nano), fwd["ingress_ts"])
	assert.Equal(t, "acme-lab", fwd["x_vendor"], "unknown fields survive the hop")
	_, hasLate := fwd["late"]
	assert.False(t, hasLate, "fresh records carry no late mark")
}

func TestIngest_DuplicateUID(t *testing.T) {
	svc, pub, _ := newTestService(t)
	uid := testUID("cd")
	raw := makeRecord(t, uid, testNow, nil)

	first, err := svc.Ingest(context.Background(), "acme", "a-1", raw)
	require.NoError(t, err)
	assert.Equal(t, "ingested", first.Status)

	second, err := svc.Ingest(context.Background(), "acme", "a-1", raw)
	require.NoError(t, err)
	assert.Equal(t, "duplicate", second.Status)
	assert.Equal(t, uid, second.UID)

	assert.Len(t, pub.all(), 1, "duplicate never reaches the stream")
}

func TestIngest_LateRecord(t *testing.T) {
	svc, pub, _ := newTestService(t)

	raw := makeRecord(t, testUID("ef"), testNow.Add(-25*time.Hour), nil)
	_, err := svc.Ingest(context.Background(), "acme", "a-1", raw)
	require.NoError(t, err)

	var fwd map[string]any
	require.NoError(t, json.Unmarshal(pub.all()[0].data, &fwd))
	assert.Equal(t, true, fwd["late"])
}

func TestIngest_ValidationErrors(t *testing.T) {
	svc, pub, _ := newTestService(t)

	strip := func(field string) []byte {
		var m map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(makeRecord(t, testUID("ab"), testNow, nil), &m))
		delete(m, field)
		b, err := json.Marshal(m)
		require.NoError(t, err)
		return b
	}

	cases := []struct {
		name    string
		raw     []byte
		wantMsg string
	}{
		{"missing ts", strip("ts"), "Missing required field: ts"},
		{"missing src", strip("src"), "Missing required field: src"},
		{"missing dst", strip("dst"), "Missing required field: dst"},
		{"missing proto", strip("proto"), "Missing required field: proto"},
		{"missing detector", strip("detector"), "Missing required field: detector"},
		{
			"missing score",
			makeRecord(t, testUID("ab"), testNow, map[string]any{"detector": map[string]any{"conf": 0.9}}),
			"Missing detector.score",
		},
		{
			"null score",
			makeRecord(t, testUID("ab"), testNow, map[string]any{"detector": map[string]any{"score": nil, "conf": 0.9}}),
			"Missing detector.score",
		},
		{
			"missing conf",
			makeRecord(t, testUID("ab"), testNow, map[string]any{"detector": map[string]any{"score": 0.5}}),
			"Missing detector.conf",
		},
		{"not json", []byte("{nope"), "Invalid JSON"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Ingest(context.Background(), "acme", "a-1", tc.raw)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Msg, tc.wantMsg)
		})
	}
	assert.Empty(t, pub.all(), "rejected records never reach the stream")
}

func TestIngest_ZeroScorePasses(t *testing.T) {
	svc, _, _ := newTestService(t)

	raw := makeRecord(t, testUID("ab"), testNow, map[string]any{
		"detector": map[string]any{"score": 0.0, "conf": 0.0},
	})
	res, err := svc.Ingest(context.Background(), "acme", "a-1", raw)
	require.NoError(t, err)
	assert.Equal(t, "ingested", res.Status)
}

func TestIngest_MissingUIDSkipsDedup(t *testing.T) {
	svc, pub, _ := newTestService(t)
	raw := makeRecord(t, "", testNow, nil)

	for i := 0; i < 2; i++ {
		res, err := svc.Ingest(context.Background(), "acme", "a-1", raw)
		require.NoError(t, err)
		assert.Equal(t, "ingested", res.Status)
	}
	assert.Len(t, pub.all(), 2)
	assert.Equal(t, "", pub.all()[0].msgID)
}

func TestIngest_CacheFailureSurfaces(t *testing.T) {
	svc, _, mr := newTestService(t)
	mr.Close()

	_, err := svc.Ingest(context.Background(), "acme", "a-1", makeRecord(t, testUID("ab"), testNow, nil))
	require.Error(t, err)
	var verr *ValidationError
	assert.False(t, errors.As(err, &verr), "infrastructure failures are not client errors")
}

func TestIngestBulk_MixedLines(t *testing.T) {
	svc, pub, _ := newTestService(t)

	good1 := makeRecord(t, testUID("ab"), testNow, nil)
	bad := makeRecord(t, testUID("cd"), testNow, map[string]any{"detector": map[string]any{"conf": 0.9}})
	good2 := makeRecord(t, testUID("ef"), testNow, nil)
	dupOfGood1 := makeRecord(t, testUID("ab"), testNow, nil)

	body := fmt.Sprintf("%s\n%s\n%s\n%s", good1, bad, good2, dupOfGood1)
	res, err := svc.IngestBulk(context.Background(), "acme", "a-1", []byte(body))
	require.NoError(t, err)

	assert.Equal(t, 3, res.Ingested, "duplicates count as ingested")
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, res.Errors[0].Line)
	assert.Equal(t, "Missing detector.score", res.Errors[0].Error)

	assert.Len(t, pub.all(), 2, "only first-seen records are forwarded")
}

func TestIngestBulk_BlankInteriorLine(t *testing.T) {
	svc, _, _ := newTestService(t)

	body := fmt.Sprintf("%s\n\n%s", makeRecord(t, testUID("ab"), testNow, nil), makeRecord(t, testUID("cd"), testNow, nil))
	res, err := svc.IngestBulk(context.Background(), "acme", "a-1", []byte(body))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Ingested)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, res.Errors[0].Line)
	assert.Contains(t, res.Errors[0].Error, "Invalid JSON")
}

func TestRedisCache_Expiry(t *testing.T) {
	_, _, mr := newTestService(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	cache := NewRedisCache(rdb)
	uid := testUID("ab")

	seen, err := cache.Seen(context.Background(), uid)
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = cache.Seen(context.Background(), uid)
	require.NoError(t, err)
	assert.True(t, seen)

	mr.FastForward(25 * time.Hour)
	seen, err = cache.Seen(context.Background(), uid)
	require.NoError(t, err)
	assert.False(t, seen, "marks expire after the idempotency window")
}
