package uer

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNormalize = errors.New("invalid detector output")

// RawEvent is what a protocol agent hands the normalizer: addressing,
// the raw device identifier (hashed before it leaves this package) and
// the numeric feature map. Labels carries non-numeric protocol
// attributes consumed by detection rules only.
type RawEvent struct {
	TS          time.Time
	SrcIP       string
	DstIP       string
	SrcPort     uint16
	DstPort     uint16
	DeviceID    string
	DstDeviceID string
	Features    map[string]float64
	Labels      map[string]string
}

// Detection is a protocol agent's verdict over one RawEvent.
type Detection struct {
	Score     float64
	Conf      float64
	Model     string
	Entities  []string
	AttckHint []string
}

// Normalizer turns raw agent output into wire-ready Records. It is the
// only place device identifiers are hashed and uids are minted.
type Normalizer struct {
	tenant string
	site   string
	salt   string
	strip  map[string]struct{}

	now   func() time.Time
	nonce func() string
}

func NewNormalizer(tenant, site, salt string, stripFields []string) *Normalizer {
	strip := make(map[string]struct{}, len(stripFields))
	for _, f := range stripFields {
		strip[f] = struct{}{}
	}
	return &Normalizer{
		tenant: tenant,
		site:   site,
		salt:   salt,
		strip:  strip,
		now:    time.Now,
		nonce:  func() string { return uuid.New().String() },
	}
}

// Normalize builds a Record for the given protocol tag. The uid is
// minted here exactly once; retransmissions of the returned record
// reuse it, which is what makes uplink retries idempotent.
//
// It fails only when score or conf is not a number in [0,1]. Absent
// addressing subfields are defaulted, never rejected.
func (n *Normalizer) Normalize(tag string, raw RawEvent, det Detection) (*Record, error) {
	if !ScoreInRange(det.Score) {
		return nil, fmt.Errorf("%w: score %v not in [0,1]", ErrNormalize, det.Score)
	}
	if !ScoreInRange(det.Conf) {
		return nil, fmt.Errorf("%w: conf %v not in [0,1]", ErrNormalize, det.Conf)
	}

	src := Endpoint{
		IP:       orUnspecified(raw.SrcIP),
		Port:     raw.SrcPort,
		DeviceID: n.hashDeviceID(raw.DeviceID),
	}
	dst := Endpoint{
		IP:       orUnspecified(raw.DstIP),
		Port:     raw.DstPort,
		DeviceID: n.hashDeviceID(raw.DstDeviceID),
	}

	ts := raw.TS
	if ts.IsZero() {
		ts = n.now()
	}
	tsStr := ts.UTC().Format(time.RFC3339Nano)

	model := det.Model
	if model == "" {
		model = tag + "-v1"
	}

	stats := make(map[string]float64, len(raw.Features))
	for k, v := range raw.Features {
		if _, drop := n.strip[k]; drop {
			continue
		}
		stats[k] = v
	}

	entities := det.Entities
	if len(entities) == 0 {
		entities = []string{"device_id"}
	}
	hints := det.AttckHint
	if hints == nil {
		hints = []string{}
	}

	return &Record{
		UID:       n.mintUID(tsStr, src.IP, dst.IP, model),
		TS:        tsStr,
		Src:       src,
		Dst:       dst,
		Proto:     Proto{L7: strings.ToUpper(tag)},
		Stats:     stats,
		Detector:  Detector{Score: det.Score, Conf: det.Conf, Model: model},
		Entities:  entities,
		AttckHint: hints,
		Tenant:    n.tenant,
		Site:      n.site,
	}, nil
}

// mintUID digests the record identity plus a random nonce. The nonce
// keeps two events with identical metadata distinct; it is embedded in
// the digest, so the uid never changes once minted.
func (n *Normalizer) mintUID(ts, srcIP, dstIP, model string) string {
	sum := sha256.Sum256([]byte(ts + srcIP + dstIP + model + n.nonce()))
	return hex.EncodeToString(sum[:])
}

func (n *Normalizer) hashDeviceID(raw string) string {
	if raw == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(raw + n.salt))
	return hex.EncodeToString(sum[:])
}

func orUnspecified(ip string) string {
	if ip == "" {
		return "0.0.0.0"
	}
	return ip
}
