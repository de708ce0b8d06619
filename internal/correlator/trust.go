package correlator

import (
	"strings"
	"sync"
)

// defaultTrust is the weight given to a protocol tag before any
// labeled outcome has been observed for it.
const defaultTrust = 0.7

// TrustStore tracks per-tenant trust weights for protocol tags. Reads
// vastly outnumber writes: every fused window reads one weight per
// evidence record, while writes only happen when an analyst labels an
// outcome.
type TrustStore struct {
	mu      sync.RWMutex
	alpha   float64
	weights map[string]float64
}

// NewTrustStore creates a store with the given smoothing factor.
func NewTrustStore(alpha float64) *TrustStore {
	return &TrustStore{alpha: alpha, weights: make(map[string]float64)}
}

func trustKey(tenant, tag string) string {
	return tenant + "/" + strings.ToLower(tag)
}

// Weight returns the current trust weight for a protocol tag.
func (s *TrustStore) Weight(tenant, tag string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if w, ok := s.weights[trustKey(tenant, tag)]; ok {
		return w
	}
	return defaultTrust
}

// Observe folds a labeled accuracy into the tag's trust weight with
// exponential smoothing and returns the new weight. The result always
// lies between the old weight and the accuracy, so a single bad label
// cannot crater an established tag.
func (s *TrustStore) Observe(tenant, tag string, accuracy float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := trustKey(tenant, tag)
	w, ok := s.weights[key]
	if !ok {
		w = defaultTrust
	}
	w = s.alpha*w + (1-s.alpha)*accuracy
	s.weights[key] = w
	return w
}
