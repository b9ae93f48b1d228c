package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covercraft/covercraft-backend/pkg/config"
	pkgerrors "github.com/covercraft/covercraft-backend/pkg/errors"
	"github.com/covercraft/covercraft-backend/pkg/logger"
	"github.com/covercraft/covercraft-backend/pkg/razorpay"
	"github.com/covercraft/covercraft-backend/pkg/shiprocket"
)

type stubGateway struct {
	body      []byte
	signature string
	err       error
}

func (s *stubGateway) HandleGatewayWebhook(_ context.Context, rawBody []byte, signature string) error {
	s.body = rawBody
	s.signature = signature
	return s.err
}

type stubCarrier struct {
	payloads []*shiprocket.WebhookPayload
	err      error
}

func (s *stubCarrier) HandleCarrierWebhook(_ context.Context, payload *shiprocket.WebhookPayload) error {
	s.payloads = append(s.payloads, payload)
	return s.err
}

const capturedEvent = `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_1","amount":49900}}}}`

func TestRazorpayWebhookPassesRawBodyAndSignature(t *testing.T) {
	svc := &stubGateway{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/razorpay", strings.NewReader(capturedEvent))
	req.Header.Set(razorpay.SignatureHeader, "sig-123")
	rec := httptest.NewRecorder()

	RazorpayWebhook(svc, logger.Nop()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, capturedEvent, string(svc.body))
	assert.Equal(t, "sig-123", svc.signature)
}

func TestRazorpayWebhookRejectsBadSignature(t *testing.T) {
	svc := &stubGateway{err: pkgerrors.New(pkgerrors.CodeSignatureInvalid, "webhook hmac mismatch")}
	rec := httptest.NewRecorder()

	RazorpayWebhook(svc, logger.Nop()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(capturedEvent)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hmac mismatch")
}

func TestRazorpayWebhookAcknowledgesProcessingFailures(t *testing.T) {
	for _, err := range []error{
		pkgerrors.New(pkgerrors.CodeNotFound, "order not found"),
		errors.New("database is gone"),
	} {
		svc := &stubGateway{err: err}
		rec := httptest.NewRecorder()
		RazorpayWebhook(svc, logger.Nop()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(capturedEvent)))
		assert.Equal(t, http.StatusOK, rec.Code, err.Error())
	}
}

func carrierConfig(mode string) config.ShiprocketConfig {
	return config.ShiprocketConfig{Webhook: mode, WebhookSecret: "s3cret", WebhookHeader: "x-api-key"}
}

const deliveredEvent = `{"awb":"AWB123","current_status":"DELIVERED","order_id":"ORD-8a0d7f36-5c3b-4f0e-9a53-2c1b3c4d5e6f","sr_order_id":555}`

func TestShiprocketWebhookHeaderMode(t *testing.T) {
	svc := &stubCarrier{}
	handler := ShiprocketWebhook(carrierConfig("header"), svc, logger.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/shiprocket", strings.NewReader(deliveredEvent))
	req.Header.Set("x-api-key", "s3cret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, svc.payloads, 1)
	assert.Equal(t, "AWB123", svc.payloads[0].WaybillCode)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/shiprocket", strings.NewReader(deliveredEvent))
	req.Header.Set("x-api-key", "wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Len(t, svc.payloads, 1)
}

func TestShiprocketWebhookHMACMode(t *testing.T) {
	svc := &stubCarrier{}
	handler := ShiprocketWebhook(carrierConfig("hmac"), svc, logger.Nop())

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write([]byte(deliveredEvent))
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(deliveredEvent))
	req.Header.Set("x-api-key", hex.EncodeToString(mac.Sum(nil)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, svc.payloads, 1)
}

func TestShiprocketWebhookAcknowledgesUnusablePayloads(t *testing.T) {
	svc := &stubCarrier{err: errors.New("order vanished")}
	handler := ShiprocketWebhook(carrierConfig("header"), svc, logger.Nop())

	for _, body := range []string{"not json", deliveredEvent} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.Header.Set("x-api-key", "s3cret")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, body)
	}
	assert.Len(t, svc.payloads, 1, "unparseable bodies never reach the engine")
}
