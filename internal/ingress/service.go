// Package ingress accepts UER uploads from edge agents, validates and
// annotates them, filters duplicates, and forwards the survivors onto
// the per-tenant event stream for correlation.
package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/edgefuse/fal/internal/natsclient"
	"github.com/edgefuse/fal/internal/uer"
)

// lateThreshold marks records whose event time is older than this at
// ingress. Late records still flow through; the correlator windows them
// by event time regardless.
const lateThreshold = 24 * time.Hour

var requiredFields = []string{"ts", "src", "dst", "proto", "detector"}

// ValidationError describes a client-side problem with an uploaded
// record. It maps to a 400; anything else coming out of the service is
// an internal failure.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Publisher forwards an annotated record onto the event stream.
// *natsclient.Client satisfies it.
type Publisher interface {
	Publish(subject, msgID string, data []byte) error
}

// Result is the outcome of a single-record ingest.
type Result struct {
	Status string `json:"status"`
	UID    string `json:"uid"`
}

// LineError reports a rejected line in a bulk upload. Line numbers are
// zero-based.
type LineError struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

// BulkResult is the outcome of a bulk ingest. Duplicates count as
// ingested: the upload succeeded, the stream just already had them.
type BulkResult struct {
	Ingested int         `json:"ingested"`
	Errors   []LineError `json:"errors"`
}

// Service implements the ingest pipeline.
type Service struct {
	cache IdempotencyCache
	pub   Publisher
	log   *zap.Logger
	now   func() time.Time
}

// NewService wires the ingest pipeline.
func NewService(cache IdempotencyCache, pub Publisher, logger *zap.Logger) *Service {
	return &Service{cache: cache, pub: pub, log: logger, now: time.Now}
}

// Ingest validates, annotates, and forwards one record. A duplicate uid
// is not an error: the caller gets a "duplicate" status and the stream
// sees nothing.
func (s *Service) Ingest(ctx context.Context, tenant, agentID string, raw []byte) (*Result, error) {
	if verr := validate(raw); verr != nil {
		return nil, verr
	}

	var rec uer.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, &ValidationError{Msg: fmt.Sprintf("Invalid JSON: %v", err)}
	}
	s.annotate(&rec, tenant, agentID)

	if rec.UID != "" {
		seen, err := s.cache.Seen(ctx, rec.UID)
		if err != nil {
			return nil, err
		}
		if seen {
			return &Result{Status: "duplicate", UID: rec.UID}, nil
		}
	}

	if err := s.forward(tenant, &rec); err != nil {
		return nil, err
	}
	return &Result{Status: "ingested", UID: rec.UID}, nil
}

// IngestBulk processes an NDJSON body line by line. Bad lines are
// reported and skipped; infrastructure failures abort the upload.
func (s *Service) IngestBulk(ctx context.Context, tenant, agentID string, body []byte) (*BulkResult, error) {
	res := &BulkResult{Errors: []LineError{}}

	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	for i, line := range lines {
		if verr := validate([]byte(line)); verr != nil {
			res.Errors = append(res.Errors, LineError{Line: i, Error: verr.Msg})
			continue
		}

		var rec uer.Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			res.Errors = append(res.Errors, LineError{Line: i, Error: fmt.Sprintf("Invalid JSON: %v", err)})
			continue
		}
		s.annotate(&rec, tenant, agentID)

		if rec.UID != "" {
			seen, err := s.cache.Seen(ctx, rec.UID)
			if err != nil {
				return nil, err
			}
			if seen {
				res.Ingested++
				continue
			}
		}

		if err := s.forward(tenant, &rec); err != nil {
			return nil, err
		}
		res.Ingested++
	}

	return res, nil
}

// annotate stamps the ownership and arrival metadata the edge never
// fills in itself.
func (s *Service) annotate(rec *uer.Record, tenant, agentID string) {
	rec.Tenant = tenant
	rec.AgentID = agentID
	now := s.now().UTC()
	rec.IngressTS = now.Format(time.RFC3339Nano)
	if ts, err := rec.Time(); err == nil && now.Sub(ts) > lateThreshold {
		rec.Late = true
	}
}

func (s *Service) forward(tenant string, rec *uer.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.UID, err)
	}
	subject := natsclient.SubjectUERIngest(tenant)
	if err := s.pub.Publish(subject, rec.UID, data); err != nil {
		return fmt.Errorf("forward record %s: %w", rec.UID, err)
	}
	s.log.Debug("record forwarded",
		zap.String("uid", rec.UID),
		zap.String("subject", subject),
	)
	return nil
}

// validate checks structural presence on the raw JSON so that a score
// of exactly 0 still passes. Field semantics are the normalizer's job
// on the edge; ingress only refuses records it cannot route.
func validate(raw []byte) *ValidationError {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return &ValidationError{Msg: fmt.Sprintf("Invalid JSON: %v", err)}
	}
	for _, f := range requiredFields {
		if isNull(fields[f]) {
			return &ValidationError{Msg: fmt.Sprintf("Missing required field: %s", f)}
		}
	}

	var det map[string]json.RawMessage
	if err := json.Unmarshal(fields["detector"], &det); err != nil {
		return &ValidationError{Msg: fmt.Sprintf("Invalid detector: %v", err)}
	}
	if isNull(det["score"]) {
		return &ValidationError{Msg: "Missing detector.score"}
	}
	if isNull(det["conf"]) {
		return &ValidationError{Msg: "Missing detector.conf"}
	}
	return nil
}

func isNull(v json.RawMessage) bool {
	return v == nil || string(v) == "null"
}
