package onramp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"mavuno/gateway/middleware"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Mavuno-Signature"

const maxWebhookBody = 64 << 10

// PaymentProcessor settles verified notifications.
type PaymentProcessor interface {
	Process(ctx context.Context, n Notification) (*Payment, error)
}

// WebhookResponse acknowledges a notification.
type WebhookResponse struct {
	Reference string `json:"reference"`
	ReceiptID string `json:"receiptId"`
	Status    Status `json:"status"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// WebhookHandler verifies the provider signature before handing the payload to
// the processor.
type WebhookHandler struct {
	processor PaymentProcessor
	secret    []byte
	logger    *slog.Logger
}

func NewWebhookHandler(processor PaymentProcessor, secret string, logger *slog.Logger) (*WebhookHandler, error) {
	key := []byte(strings.TrimSpace(secret))
	if len(key) == 0 {
		return nil, errors.New("onramp: webhook secret required")
	}
	if processor == nil {
		return nil, errors.New("onramp: processor required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{processor: processor, secret: key, logger: logger}, nil
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(strings.TrimSpace(secret)))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (h *WebhookHandler) verify(body []byte, signature string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	decoded, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	return hmac.Equal(decoded, mac.Sum(nil))
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	_ = r.Body.Close()
	if err != nil {
		middleware.WriteError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
		return
	}
	if !h.verify(body, r.Header.Get(SignatureHeader)) {
		h.logger.Warn("onramp: webhook signature rejected", "remote", r.RemoteAddr)
		middleware.WriteError(w, http.StatusUnauthorized, "invalid_signature", "webhook signature mismatch")
		return
	}
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid_payload", "malformed notification")
		return
	}

	payment, err := h.processor.Process(r.Context(), n)
	switch {
	case err == nil:
		writeAck(w, http.StatusOK, payment, false)
	case errors.Is(err, ErrDuplicatePayment):
		writeAck(w, http.StatusOK, payment, true)
	case errors.Is(err, ErrIgnoredStatus):
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, ErrInvalidNotification):
		middleware.WriteError(w, http.StatusBadRequest, "invalid_notification", err.Error())
	case errors.Is(err, ErrQuotaExceeded):
		middleware.WriteError(w, http.StatusTooManyRequests, "quota_exceeded", err.Error())
	case errors.Is(err, ErrSettlementFailed):
		middleware.WriteError(w, http.StatusUnprocessableEntity, "settlement_failed", err.Error())
	default:
		h.logger.Error("onramp: process webhook", "reference", n.Reference, "error", err)
		middleware.WriteError(w, http.StatusInternalServerError, "internal", "failed to process notification")
	}
}

func writeAck(w http.ResponseWriter, status int, payment *Payment, duplicate bool) {
	resp := WebhookResponse{Duplicate: duplicate}
	if payment != nil {
		resp.Reference = payment.Reference
		resp.ReceiptID = payment.ReceiptID
		resp.Status = payment.Status
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
