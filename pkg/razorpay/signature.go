package razorpay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifyClientSignature checks the checkout callback signature:
// hex(HMAC-SHA256(key_secret, order_id + "|" + payment_id)).
func (c *Client) VerifyClientSignature(gatewayOrderID, gatewayPaymentID, signature string) bool {
	if gatewayOrderID == "" || gatewayPaymentID == "" {
		return false
	}
	return verifyHex(c.keySecret, []byte(gatewayOrderID+"|"+gatewayPaymentID), signature)
}

// VerifyWebhookSignature checks X-Razorpay-Signature over the raw body exactly as received.
func (c *Client) VerifyWebhookSignature(rawBody []byte, signatureHeader string) bool {
	if c.webhookSecret == "" {
		return false
	}
	return verifyHex(c.webhookSecret, rawBody, signatureHeader)
}

// Sign returns the hex HMAC-SHA256 of message under secret.
func Sign(secret string, message []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyHex(secret string, message []byte, signature string) bool {
	signature = strings.TrimSpace(signature)
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hmac.Equal(got, mac.Sum(nil))
}
