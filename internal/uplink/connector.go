// Package uplink delivers normalized records from the edge to the
// cloud ingress over HTTPS, falling back to the durable buffer when the
// cloud is unreachable and to the dead-letter queue when the cloud
// rejects a record outright.
package uplink

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/edgefuse/fal/internal/uer"
)

// ErrTransport marks network and TLS level send failures. They are
// always retryable.
var ErrTransport = errors.New("uplink transport failure")

// PermanentHTTPError reports a 4xx rejection that must not be retried.
type PermanentHTTPError struct {
	Status int
	Body   string
}

func (e *PermanentHTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// Buffer is the durable fallback store the connector writes to. The
// edge buffer.Store satisfies it.
type Buffer interface {
	Enqueue(uerJSON []byte) error
	DequeueBatch(n int) ([][]byte, error)
	DeadLetter(uerJSON []byte, reason string) error
}

// TLSConfig selects transport security for the uplink. Verify is the
// already-resolved server verification flag; the config layer defaults
// it to true.
type TLSConfig struct {
	MTLS   bool
	CACert string
	Cert   string
	Key    string
	Verify bool
}

// Config carries everything the connector needs to reach one ingress.
type Config struct {
	MSSPURL    string
	Endpoint   string
	Token      string
	TenantID   string
	AgentID    string
	Timeout    time.Duration
	Retry      RetryPolicy
	FlushBatch int
	Pause      time.Duration
	TLS        TLSConfig
}

// Option customises a Connector beyond its Config.
type Option func(*Connector)

// WithMetrics wires delivery counters into the connector. Without it
// the connector runs uninstrumented; a nil Metrics pointer is a no-op.
func WithMetrics(m *Metrics) Option {
	return func(c *Connector) { c.metrics = m }
}

// Connector sends records to the cloud ingress. It is safe for
// concurrent use; the underlying HTTP client pools connections across
// agent workers.
type Connector struct {
	client     *http.Client
	url        string
	token      string
	tenantID   string
	agentID    string
	policy     RetryPolicy
	buf        Buffer
	log        *zap.Logger
	flushBatch int
	pause      time.Duration
	metrics    *Metrics
}

func New(cfg Config, buf Buffer, log *zap.Logger, opts ...Option) (*Connector, error) {
	if cfg.MSSPURL == "" {
		return nil, errors.New("uplink: mssp_url is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "/api/fal/uer"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	policy := cfg.Retry
	if len(policy.BackoffMS) == 0 && policy.MaxRetries == 0 {
		policy = DefaultRetryPolicy()
	}
	flushBatch := cfg.FlushBatch
	if flushBatch <= 0 {
		flushBatch = 500
	}
	pause := cfg.Pause
	if pause == 0 {
		pause = 10 * time.Millisecond
	}

	tlsCfg, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("uplink: %w", err)
	}

	c := &Connector{
		client: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{TLSClientConfig: tlsCfg},
		},
		url:        strings.TrimRight(cfg.MSSPURL, "/") + endpoint,
		token:      cfg.Token,
		tenantID:   cfg.TenantID,
		agentID:    cfg.AgentID,
		policy:     policy,
		buf:        buf,
		log:        log,
		flushBatch: flushBatch,
		pause:      pause,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func buildTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	t := &tls.Config{MinVersion: tls.VersionTLS12}
	if !cfg.Verify {
		t.InsecureSkipVerify = true
	}
	if cfg.CACert != "" {
		pem, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read ca cert %s: %w", cfg.CACert, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse ca cert %s: no certificates found", cfg.CACert)
		}
		t.RootCAs = pool
	}
	if cfg.MTLS {
		cert, err := tls.LoadX509KeyPair(cfg.Cert, cfg.Key)
		if err != nil {
			return nil, fmt.Errorf("load client cert/key (%s, %s): %w", cfg.Cert, cfg.Key, err)
		}
		t.Certificates = []tls.Certificate{cert}
	}
	return t, nil
}

// Send delivers one record, retrying per the backoff schedule. The
// returned Outcome is the terminal state the record reached. The error
// is non-nil only when ctx was cancelled or the fallback persistence
// itself failed; in the latter case the record is lost and the caller
// must not pretend otherwise.
func (c *Connector) Send(ctx context.Context, rec *uer.Record) (Outcome, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return OutcomeDeadLettered, fmt.Errorf("uplink: encode record: %w", err)
	}
	return c.sendPayload(ctx, payload, rec.UID)
}

func (c *Connector) sendPayload(ctx context.Context, payload []byte, uid string) (Outcome, error) {
	attempts := c.policy.Attempts()
	for attempt := 0; attempt < attempts; attempt++ {
		status, body, err := c.post(ctx, payload)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return c.buffer(payload, uid, ctx.Err())
			}
			c.countRetry()
			c.log.Warn("uplink request failed",
				zap.String("uid", uid),
				zap.Int("attempt", attempt+1),
				zap.Error(err))

		case Classify(status) == ClassSuccess:
			c.countSent()
			c.log.Debug("record sent", zap.String("uid", uid), zap.Int("status", status))
			return OutcomeSent, nil

		case Classify(status) == ClassPermanent:
			reason := (&PermanentHTTPError{Status: status, Body: truncate(body, 100)}).Error()
			if dlqErr := c.buf.DeadLetter(payload, reason); dlqErr != nil {
				c.log.Error("dead letter write failed, record lost",
					zap.String("uid", uid),
					zap.String("reason", reason),
					zap.Error(dlqErr))
				return OutcomeDeadLettered, dlqErr
			}
			c.countDeadLettered()
			c.log.Error("permanent uplink rejection",
				zap.String("uid", uid),
				zap.String("reason", reason))
			return OutcomeDeadLettered, nil

		default: // retryable status
			c.countRetry()
			c.log.Warn("retryable uplink status",
				zap.String("uid", uid),
				zap.Int("status", status),
				zap.Int("attempt", attempt+1))
		}

		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return c.buffer(payload, uid, ctx.Err())
		case <-time.After(c.policy.Delay(attempt)):
		}
	}

	// Retries exhausted on a retryable failure. The record is valid and
	// the cloud is down, so it goes back to the durable queue.
	return c.buffer(payload, uid, nil)
}

func (c *Connector) buffer(payload []byte, uid string, cause error) (Outcome, error) {
	if err := c.buf.Enqueue(payload); err != nil {
		c.log.Error("buffer enqueue failed, record lost",
			zap.String("uid", uid),
			zap.Error(err))
		return OutcomeBuffered, err
	}
	c.countBuffered()
	c.log.Info("record buffered for later delivery", zap.String("uid", uid))
	return OutcomeBuffered, cause
}

func (c *Connector) post(ctx context.Context, payload []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", c.tenantID)
	req.Header.Set("X-Agent-ID", c.agentID)
	req.Header.Set("X-Schema-Version", uer.SchemaVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, string(body), nil
}

// FlushStats summarises one buffer drain pass.
type FlushStats struct {
	Dequeued     int
	Sent         int
	Buffered     int
	DeadLettered int
}

// Flush drains up to one flush batch from the buffer and sends the
// records serially in FIFO order, pausing briefly between sends. A
// permanent rejection dead-letters only that record; the rest of the
// batch continues. On cancellation the unsent remainder is re-enqueued
// before returning, so cancellation between records never loses data.
func (c *Connector) Flush(ctx context.Context) (FlushStats, error) {
	batch, err := c.buf.DequeueBatch(c.flushBatch)
	if err != nil {
		return FlushStats{}, err
	}
	stats := FlushStats{Dequeued: len(batch)}

	for i, payload := range batch {
		if i > 0 {
			select {
			case <-ctx.Done():
				if reErr := c.requeue(batch[i:]); reErr != nil {
					return stats, reErr
				}
				return stats, ctx.Err()
			case <-time.After(c.pause):
			}
		}

		outcome, sendErr := c.sendPayload(ctx, payload, probeUID(payload))
		switch outcome {
		case OutcomeSent:
			stats.Sent++
		case OutcomeBuffered:
			stats.Buffered++
		case OutcomeDeadLettered:
			stats.DeadLettered++
		}
		if sendErr != nil && ctx.Err() != nil {
			if reErr := c.requeue(batch[i+1:]); reErr != nil {
				return stats, reErr
			}
			return stats, ctx.Err()
		}
	}

	if stats.Dequeued > 0 {
		c.log.Info("buffer flush complete",
			zap.Int("dequeued", stats.Dequeued),
			zap.Int("sent", stats.Sent),
			zap.Int("buffered", stats.Buffered),
			zap.Int("dead_lettered", stats.DeadLettered))
	}
	return stats, nil
}

func (c *Connector) requeue(rest [][]byte) error {
	for _, payload := range rest {
		if err := c.buf.Enqueue(payload); err != nil {
			c.log.Error("re-enqueue on shutdown failed, record lost", zap.Error(err))
			return err
		}
	}
	return nil
}

func probeUID(payload []byte) string {
	var probe struct {
		UID string `json:"uid"`
	}
	_ = json.Unmarshal(payload, &probe)
	return probe.UID
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
