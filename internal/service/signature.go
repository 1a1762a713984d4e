package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureVerifier checks gateway signatures. Payment callbacks are signed with
// the API key secret, webhooks with a separate webhook secret.
type SignatureVerifier struct {
	keySecret     []byte
	webhookSecret []byte
}

func NewSignatureVerifier(keySecret, webhookSecret string) *SignatureVerifier {
	return &SignatureVerifier{keySecret: []byte(keySecret), webhookSecret: []byte(webhookSecret)}
}

// PaymentSignature returns hex(HMAC-SHA256(keySecret, paymentID + "|" + subscriptionID)).
func (v *SignatureVerifier) PaymentSignature(paymentID, subscriptionID string) string {
	return sign(v.keySecret, []byte(paymentID+"|"+subscriptionID))
}

// WebhookSignature returns hex(HMAC-SHA256(webhookSecret, body)).
func (v *SignatureVerifier) WebhookSignature(body []byte) string {
	return sign(v.webhookSecret, body)
}

// VerifyPayment reports whether signature matches the payment callback.
// An unconfigured secret never verifies.
func (v *SignatureVerifier) VerifyPayment(paymentID, subscriptionID, signature string) bool {
	if len(v.keySecret) == 0 || paymentID == "" || subscriptionID == "" {
		return false
	}
	return equal(v.PaymentSignature(paymentID, subscriptionID), signature)
}

// VerifyWebhook reports whether signature matches the raw webhook body.
func (v *SignatureVerifier) VerifyWebhook(body []byte, signature string) bool {
	if len(v.webhookSecret) == 0 {
		return false
	}
	return equal(v.WebhookSignature(body), signature)
}

func sign(secret, msg []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

func equal(expected, got string) bool {
	got = strings.TrimSpace(got)
	if got == "" {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(got))
}
