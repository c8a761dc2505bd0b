// Package apperr defines the stable application error taxonomy.
// Domain operations return *Error values; the HTTP layer translates them
// into the versioned error envelope. Codes are part of the public API
// contract and must never change meaning.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a typed application error with a stable code.
type Error struct {
	Code    string                 `json:"code"`
	Status  int                    `json:"-"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// WithCause attaches an underlying error (logged server-side, never serialized).
func (e *Error) WithCause(err error) *Error {
	clone := *e
	clone.cause = err
	return &clone
}

// WithDetails attaches a details map for the error envelope.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	clone := *e
	clone.Details = details
	return &clone
}

// WithMessage overrides the default human-readable message.
func (e *Error) WithMessage(format string, args ...interface{}) *Error {
	clone := *e
	clone.Message = fmt.Sprintf(format, args...)
	return &clone
}

// New creates an error with an explicit code, status, and message.
func New(code string, status int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Status: status, Message: fmt.Sprintf(format, args...)}
}

// As extracts an *Error from an error chain, or nil.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// IsCode reports whether err carries the given stable code.
func IsCode(err error, code string) bool {
	if e := As(err); e != nil {
		return e.Code == code
	}
	return false
}

// --- Stable code set ---

var (
	Validation = func(msg string, details map[string]interface{}) *Error {
		return &Error{Code: "VALIDATION_ERROR", Status: http.StatusBadRequest, Message: msg, Details: details}
	}

	Unauthorized      = New("UNAUTHORIZED", http.StatusUnauthorized, "authentication required")
	TokenInvalid      = New("TOKEN_INVALID", http.StatusUnauthorized, "token is missing, expired, or revoked")
	AuthRealmMismatch = New("AUTH_REALM_MISMATCH", http.StatusUnauthorized, "token was issued for a different realm")
	RoleNotAllowed    = New("ROLE_NOT_ALLOWED", http.StatusForbidden, "actor role is not allowed on this endpoint")
	ForbiddenOrder    = New("FORBIDDEN_ORDER_SCOPE", http.StatusForbidden, "order does not belong to the caller")

	EmailTaken       = New("EMAIL_TAKEN", http.StatusConflict, "email is already registered")
	DisplayNameTaken = New("DISPLAY_NAME_TAKEN", http.StatusConflict, "display name is already taken")
	UserNotFound     = New("USER_NOT_FOUND", http.StatusNotFound, "user not found")

	OrderNotFound     = New("ORDER_NOT_FOUND", http.StatusNotFound, "order not found")
	OrderInvalidState = New("ORDER_INVALID_STATE", http.StatusConflict, "order state does not allow this operation")
	FoodNotFound      = New("FOOD_NOT_FOUND", http.StatusNotFound, "food not found")
	CategoryNotFound  = New("CATEGORY_NOT_FOUND", http.StatusNotFound, "category not found")

	LotNotFound       = New("LOT_NOT_FOUND", http.StatusNotFound, "production lot not found")
	LotStatusInvalid  = New("LOT_STATUS_INVALID", http.StatusConflict, "lot status does not allow this operation")
	LotInvalidQty     = New("LOT_INVALID_QUANTITY", http.StatusBadRequest, "lot quantity out of range")
	InsufficientStock = func(foodID string) *Error {
		return New("INSUFFICIENT_LOT_STOCK", http.StatusConflict, "insufficient lot stock for food %s", foodID).
			WithDetails(map[string]interface{}{"foodId": foodID})
	}

	PaymentSessionConflict  = New("PAYMENT_SESSION_CONFLICT", http.StatusConflict, "a payment session already exists for this order")
	PaymentStateConflict    = New("PAYMENT_STATE_CONFLICT", http.StatusConflict, "order state no longer allows payment confirmation")
	PaymentAttemptNotFound  = New("PAYMENT_ATTEMPT_NOT_FOUND", http.StatusNotFound, "payment attempt not found")
	WebhookSignatureInvalid = New("WEBHOOK_SIGNATURE_INVALID", http.StatusUnauthorized, "webhook signature verification failed")

	IdempotencyConflict = New("IDEMPOTENCY_CONFLICT", http.StatusConflict, "idempotency key was already used with a different request body")
	RateLimited         = New("RATE_LIMITED", http.StatusTooManyRequests, "too many requests for this flow")

	ComplianceProfileRequired      = New("COMPLIANCE_PROFILE_REQUIRED", http.StatusForbidden, "seller compliance profile is required for this operation")
	ComplianceProfileNotFound      = New("COMPLIANCE_PROFILE_NOT_FOUND", http.StatusNotFound, "seller compliance profile not found")
	ComplianceChecksMissing        = New("COMPLIANCE_REQUIRED_CHECKS_MISSING", http.StatusConflict, "required compliance checks are not verified")
	ComplianceProfileStateConflict = New("COMPLIANCE_PROFILE_INVALID_STATE", http.StatusConflict, "compliance profile state does not allow this operation")
	ComplianceDocumentNotFound     = New("COMPLIANCE_DOCUMENT_NOT_FOUND", http.StatusNotFound, "compliance document not found")

	DisputeNotFound          = New("DISPUTE_NOT_FOUND", http.StatusNotFound, "dispute case not found")
	DisputeInvalidState      = New("DISPUTE_INVALID_STATE", http.StatusConflict, "dispute state does not allow this operation")
	DeliveryProofNotRequired = New("DELIVERY_PROOF_NOT_REQUIRED", http.StatusConflict, "order is not a delivery order")
	DeliveryProofNotFound    = New("DELIVERY_PROOF_NOT_FOUND", http.StatusNotFound, "delivery proof record not found")
	PinInvalid               = New("PIN_INVALID", http.StatusConflict, "delivery PIN does not match")
	PinExpired               = New("PIN_EXPIRED", http.StatusConflict, "delivery PIN has expired")
	PinMaxAttempts           = New("PIN_MAX_ATTEMPTS", http.StatusConflict, "delivery PIN verification attempts exhausted")

	DisclosureNotFound = New("DISCLOSURE_NOT_FOUND", http.StatusNotFound, "allergen disclosure record not found")

	ReviewConflict       = New("REVIEW_CONFLICT", http.StatusConflict, "a review already exists for this order")
	ReviewNotPermitted   = New("REVIEW_NOT_PERMITTED", http.StatusForbidden, "reviews require a completed purchase")
	ChatNotFound         = New("CHAT_NOT_FOUND", http.StatusNotFound, "chat not found")
	AddressNotFound      = New("ADDRESS_NOT_FOUND", http.StatusNotFound, "address not found")
	MediaAssetNotFound   = New("MEDIA_ASSET_NOT_FOUND", http.StatusNotFound, "media asset not found")
	NotificationNotFound = New("NOTIFICATION_NOT_FOUND", http.StatusNotFound, "notification not found")
	LegalHoldNotFound    = New("LEGAL_HOLD_NOT_FOUND", http.StatusNotFound, "legal hold not found or already released")

	PaginationInvalid     = New("PAGINATION_INVALID", http.StatusBadRequest, "pagination parameters are invalid")
	SortFieldInvalid      = New("SORT_FIELD_INVALID", http.StatusBadRequest, "sort field is not allowed")
	CursorInvalid         = New("CURSOR_INVALID", http.StatusBadRequest, "cursor is malformed or expired")
	APIVersionUnsupported = New("API_VERSION_UNSUPPORTED", http.StatusNotFound, "unsupported API version")

	Internal = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal error")
)

// Upstream builds a provider-qualified dependency error, e.g. AGENT_HTTP_502.
func Upstream(provider string, status int) *Error {
	code := fmt.Sprintf("%s_HTTP_%d", provider, status)
	return New(code, http.StatusBadGateway, "upstream %s returned status %d", provider, status)
}
