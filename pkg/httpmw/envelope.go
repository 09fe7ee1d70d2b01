package httpmw

import (
	"encoding/json"
	"net/http"
)

// FaError is the Persian client-visible error body every failing endpoint
// returns: a stable machine-readable code plus a Persian message.
type FaError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// faErrorEnvelope is the wire envelope: {"fa_error_envelope": {...}}.
type faErrorEnvelope struct {
	FaErrorEnvelope FaError `json:"fa_error_envelope"`
}

// WriteFaError writes the Persian error envelope with the given HTTP status.
func WriteFaError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(faErrorEnvelope{FaErrorEnvelope: FaError{Code: code, Message: message}})
}

// Persian messages for the fixed set of error codes this chain raises.
// Kept centralized so every middleware emits byte-identical wording.
const (
	msgRateLimitExceeded      = "تعداد درخواست‌های شما بیش از حد مجاز است."
	msgIdempotencyKeyRequired = "ارسال Idempotency-Key برای این درخواست الزامی است."
	msgUnauthorized           = "احراز هویت ناموفق بود."
	msgScopeDenied            = "دسترسی شما برای این عملیات کافی نیست."
)
