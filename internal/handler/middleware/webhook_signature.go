package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/makkenzo/license-issuer-api/internal/ierr"
	"go.uber.org/zap"
)

const (
	WebhookSignatureHeader = "X-Webhook-Signature"
	WebhookTimestampHeader = "X-Webhook-Timestamp"

	signaturePrefix     = "sha256="
	maxWebhookBodyBytes = 1 << 20
)

// SignWebhookBody returns the header value the commerce provider sends for body.
func SignWebhookBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// WebhookSignature rejects requests whose body was not signed with secret.
// When tolerance is positive and the provider sends a timestamp, deliveries
// older or newer than tolerance are rejected as replays.
func WebhookSignature(secret string, tolerance time.Duration, logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("WebhookSignature")
	return func(c *gin.Context) {
		if secret == "" {
			log.Error("Webhook secret is not configured, rejecting delivery")
			_ = c.Error(fmt.Errorf("%w: webhook secret not configured", ierr.ErrInvalidSignature))
			c.Abort()
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Warn("Webhook body exceeds limit", zap.Int64("limit", tooLarge.Limit))
			_ = c.Error(fmt.Errorf("%w: limit is %d bytes", ierr.ErrPayloadTooLarge, tooLarge.Limit))
			c.Abort()
			return
		}
		if err != nil {
			log.Warn("Failed to read webhook body", zap.Error(err))
			_ = c.Error(fmt.Errorf("%w: unreadable body", ierr.ErrValidation))
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		received := strings.TrimSpace(c.GetHeader(WebhookSignatureHeader))
		if !strings.HasPrefix(received, signaturePrefix) {
			log.Warn("Webhook signature header missing or malformed")
			_ = c.Error(fmt.Errorf("%w: missing signature", ierr.ErrInvalidSignature))
			c.Abort()
			return
		}

		expected := SignWebhookBody(secret, body)
		if !hmac.Equal([]byte(strings.ToLower(received)), []byte(expected)) {
			log.Warn("Webhook signature mismatch", zap.String("client_ip", c.ClientIP()))
			_ = c.Error(ierr.ErrInvalidSignature)
			c.Abort()
			return
		}

		if ts := c.GetHeader(WebhookTimestampHeader); ts != "" && tolerance > 0 {
			sec, err := strconv.ParseInt(ts, 10, 64)
			if err != nil {
				_ = c.Error(fmt.Errorf("%w: malformed timestamp", ierr.ErrStaleWebhook))
				c.Abort()
				return
			}
			skew := time.Since(time.Unix(sec, 0))
			if skew > tolerance || skew < -tolerance {
				log.Warn("Webhook timestamp outside tolerance", zap.Duration("skew", skew))
				_ = c.Error(ierr.ErrStaleWebhook)
				c.Abort()
				return
			}
		}

		c.Next()
	}
}
