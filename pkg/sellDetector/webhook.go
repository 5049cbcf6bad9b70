package sellDetector

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	SignatureHeader = "x-helius-signature"
	MaxBatchSize    = 100
)

var (
	ErrWebhookNotConfigured = errors.New("webhook secret is not configured")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrBatchTooLarge        = fmt.Errorf("batch exceeds %d transactions", MaxBatchSize)
	ErrInvalidPayload       = errors.New("invalid webhook payload")
)

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the signature header against the raw request body.
// An unset secret never verifies.
func VerifySignature(payload []byte, signature string, secret string) error {
	if secret == "" {
		return ErrWebhookNotConfigured
	}
	if signature == "" {
		return ErrInvalidSignature
	}
	if !hmac.Equal([]byte(signature), []byte(Sign(payload, secret))) {
		return ErrInvalidSignature
	}
	return nil
}

// DecodeBatch accepts either a JSON array of enhanced transactions or a single
// transaction object.
func DecodeBatch(body []byte) ([]*EnhancedTransaction, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, ErrInvalidPayload
	}
	var txs []*EnhancedTransaction
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &txs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	} else {
		tx := &EnhancedTransaction{}
		if err := json.Unmarshal(trimmed, tx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		txs = []*EnhancedTransaction{tx}
	}
	if len(txs) > MaxBatchSize {
		return nil, ErrBatchTooLarge
	}
	return txs, nil
}
