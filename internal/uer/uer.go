// Package uer defines the Unified Event Record, the canonical wire and
// on-disk unit exchanged between edge agents and the cloud platform.
package uer

import (
	"encoding/json"
	"math"
	"time"
)

// SchemaVersion is the UER wire schema tag, carried in the
// X-Schema-Version header on every uplink request.
const SchemaVersion = "uer-v1.1"

// Endpoint is one side of an observed flow. DeviceID is always the
// salted hash of the raw identifier; raw IDs never leave the edge host.
type Endpoint struct {
	IP       string `json:"ip"`
	Port     uint16 `json:"port,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
}

// Detector carries the edge model's verdict for a single event.
type Detector struct {
	Score float64 `json:"score"`
	Conf  float64 `json:"conf"`
	Model string  `json:"model,omitempty"`
}

// Proto identifies the observed application protocol.
type Proto struct {
	L7 string `json:"l7"`
}

// Record is a Unified Event Record. Instances are immutable once the
// normalizer has produced them; the cloud only annotates tenant,
// agent_id, ingress_ts and late on receipt.
//
// Unknown top-level fields survive a decode/encode cycle so that
// records from future schema versions pass through intact.
type Record struct {
	UID       string             `json:"uid,omitempty"`
	TS        string             `json:"ts"`
	Src       Endpoint           `json:"src"`
	Dst       Endpoint           `json:"dst"`
	Proto     Proto              `json:"proto"`
	Stats     map[string]float64 `json:"stats"`
	Detector  Detector           `json:"detector"`
	Entities  []string           `json:"entities"`
	AttckHint []string           `json:"attck_hint"`
	Tenant    string             `json:"tenant,omitempty"`
	Site      string             `json:"site,omitempty"`
	AgentID   string             `json:"agent_id,omitempty"`
	IngressTS string             `json:"ingress_ts,omitempty"`
	Late      bool               `json:"late,omitempty"`

	extra map[string]json.RawMessage
}

var knownFields = []string{
	"uid", "ts", "src", "dst", "proto", "stats", "detector",
	"entities", "attck_hint", "tenant", "site", "agent_id",
	"ingress_ts", "late",
}

type recordAlias Record

// UnmarshalJSON decodes a record and stashes any top-level fields this
// schema version does not know about.
func (r *Record) UnmarshalJSON(data []byte) error {
	var a recordAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range knownFields {
		delete(raw, k)
	}
	if len(raw) > 0 {
		a.extra = raw
	}
	*r = Record(a)
	return nil
}

// MarshalJSON emits the canonical form: one JSON object with keys in
// lexicographic order, nil collections as empty, unknown fields merged
// back in. Encoding the same record twice yields byte-identical output.
func (r Record) MarshalJSON() ([]byte, error) {
	a := recordAlias(r)
	if a.Stats == nil {
		a.Stats = map[string]float64{}
	}
	if a.Entities == nil {
		a.Entities = []string{}
	}
	if a.AttckHint == nil {
		a.AttckHint = []string{}
	}
	base, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	m := map[string]json.RawMessage{}
	if err := json.Unmarshal(base, &m); err != nil {
		return nil, err
	}
	for k, v := range r.extra {
		if _, ok := m[k]; !ok {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

// Time parses the record's event timestamp.
func (r *Record) Time() (time.Time, error) {
	return time.Parse(time.RFC3339, r.TS)
}

// ScoreInRange reports whether v is a usable probability value for
// detector score and confidence fields.
func ScoreInRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
