// Package dispatcher delivers alerts to a tenant-operated webhook as
// HMAC-signed JSON POSTs.
//
// Every outbound delivery:
//  1. Serialises the alert as JSON.
//  2. Computes an HMAC-SHA256 signature over the body with the shared secret.
//  3. POSTs the body with an X-Fal-Signature header.
package dispatcher

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/edgefuse/fal/internal/policy"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Fal-Signature"

// Dispatcher posts signed alerts to one configured endpoint.
type Dispatcher struct {
	url    string
	secret string
	log    *zap.Logger
	client *http.Client
}

// New creates a Dispatcher with a default 10s delivery timeout.
func New(url, secret string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		url:    url,
		secret: secret,
		log:    logger,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Deliver signs and posts one alert. Delivery is fire-and-forget from
// the pipeline's point of view; the alert is already on the stream, so
// a failed webhook only loses the push notification.
func (d *Dispatcher) Deliver(ctx context.Context, alert policy.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, sign(d.secret, body))

	resp, err := d.client.Do(req)
	if err != nil {
		d.log.Warn("alert delivery failed",
			zap.String("alert_id", alert.AlertID),
			zap.String("url", d.url),
			zap.Error(err))
		return fmt.Errorf("deliver alert %s: %w", alert.AlertID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		d.log.Warn("alert delivery rejected",
			zap.String("alert_id", alert.AlertID),
			zap.String("url", d.url),
			zap.Int("status", resp.StatusCode))
		return fmt.Errorf("deliver alert %s: HTTP %d", alert.AlertID, resp.StatusCode)
	}

	d.log.Info("alert delivered",
		zap.String("alert_id", alert.AlertID),
		zap.Int("status", resp.StatusCode))
	return nil
}

// sign generates a hex-encoded HMAC-SHA256 of the body.
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
