package razorpay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/mihaimyh/rzpsub/pkg/billing"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Razorpay-Signature"

// VerifySignature reports whether signature is the hex HMAC-SHA256 of body
// keyed with secret. body must be the request body exactly as received.
// A missing secret or signature is a precondition error; a mismatch is
// (false, nil).
func VerifySignature(body []byte, signature, secret string) (bool, error) {
	if secret == "" {
		return false, billing.ErrMissingWebhookSecret
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false, billing.ErrMissingSignature
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false, nil
	}
	return hmac.Equal(provided, Sign(body, secret)), nil
}

// Sign returns the raw HMAC-SHA256 of body keyed with secret.
func Sign(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// SignHex returns the hex signature the provider would send for body.
func SignHex(body []byte, secret string) string {
	return hex.EncodeToString(Sign(body, secret))
}
