package admin

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// generateAgentToken mints a bearer token for an agent. The raw token is
// returned to the caller exactly once; only the hash is stored.
func generateAgentToken() (string, string) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		panic(err)
	}
	rawToken := "fal_" + hex.EncodeToString(bytes)

	hasher := sha256.New()
	hasher.Write([]byte(rawToken))
	tokenHash := hex.EncodeToString(hasher.Sum(nil))

	return rawToken, tokenHash
}

// tokenPrefix is the redacted form stored alongside the hash so operators
// can recognise a token without ever seeing it whole again.
func tokenPrefix(rawToken string) string {
	return rawToken[:8] + "..." + rawToken[len(rawToken)-4:]
}

// newAgentID derives a stable, human-readable agent identifier from the
// tenant and site plus a short random suffix.
func newAgentID(tenantID, site string) string {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		panic(err)
	}
	return tenantID + "-" + site + "-" + hex.EncodeToString(suffix)
}

func hashToken(rawToken string) string {
	hasher := sha256.New()
	hasher.Write([]byte(rawToken))
	return hex.EncodeToString(hasher.Sum(nil))
}
