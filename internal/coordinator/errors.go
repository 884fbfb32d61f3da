package coordinator

import (
	"fmt"
	"strings"
)

// APIError is the decoded `{statusCode, error, message}` shape the
// coordinator returns on non-2xx responses (§6, §7 "Semantic protocol").
type APIError struct {
	StatusCode int    `json:"statusCode"`
	Error_     string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("coordinator: %d %s: %s", e.StatusCode, e.Error_, e.Message)
}

// Transient reports whether the error class should be retried with backoff
// (§7: 5xx, 408, 429, and any network-level failure not yet classified into
// an APIError).
func (e *APIError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == 408 || e.StatusCode == 429
}

// AlreadyConsumed reports the "solution already exists/submitted" class
// (§7 "Coordinator-accepted-elsewhere"): treated as success from the local
// durability perspective.
func (e *APIError) AlreadyConsumed() bool {
	return e.StatusCode == 409 || containsFold(e.Message, "already")
}

// WindowClosed reports the "submission window closed" permanent-failure
// class (§4.5 step 4).
func (e *APIError) WindowClosed() bool {
	return containsFold(e.Message, "window closed") || containsFold(e.Error_, "window closed")
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
