// Package apierr defines the coded errors surfaced across the HTTP
// contract: validation failures, not-found orders, and malformed patches.
package apierr

import "fmt"

// Code is a short machine-readable error token returned in HTTP responses.
type Code string

const (
	CodeValidation           Code = "VALIDATION_ERROR"
	CodeOrderNotFound        Code = "ORDER_NOT_FOUND"
	CodeInvalidPatchedOrder  Code = "INVALID_PATCHED_ORDER_ID"
	CodeInternal             Code = "INTERNAL_ERROR"
)

// Error is a coded application error. Handlers map it to an HTTP status:
// CodeValidation/CodeInvalidPatchedOrder -> 400, CodeOrderNotFound -> 404,
// anything else -> 500.
type Error struct {
	Code    Code
	Message string
	Details []string
}

func (e *Error) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Details)
}

// Validation builds a 400 validation error carrying field-path details.
func Validation(details []string) *Error {
	return &Error{Code: CodeValidation, Message: "validation failed", Details: details}
}

// NotFound builds a 404 not-found error for the given order id.
func NotFound(orderID string) *Error {
	return &Error{Code: CodeOrderNotFound, Message: fmt.Sprintf("order %q not found", orderID)}
}

// InvalidPatchedOrderID builds the 400 error for a patched_order whose
// order_id does not match the request's order_id.
func InvalidPatchedOrderID() *Error {
	return &Error{Code: CodeInvalidPatchedOrder, Message: "patched_order.order_id must equal request order_id"}
}

// Internal builds a 500 opaque internal error. cause is not kept in the
// returned error, so its message never reaches the client.
func Internal(cause error) *Error {
	return &Error{Code: CodeInternal, Message: "internal error"}
}
