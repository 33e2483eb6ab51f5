package client

import (
	"encoding/json"
	"errors"
	"fmt"
)

// APIError represents a structured error response from the CRM API.
type APIError struct {
	StatusCode int            `json:"-"`
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	RequestID  string         `json:"request_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("crm: %d %s: %s (request_id=%s)", e.StatusCode, e.Code, e.Message, e.RequestID)
	}
	return fmt.Sprintf("crm: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// VersionConflict is the detail of a rejected versioned write. Callers
// should refetch the record at CurrentVersion and retry.
type VersionConflict struct {
	CurrentVersion   int
	AttemptedVersion int
}

// AsVersionConflict extracts the conflict detail from err.
func AsVersionConflict(err error) (*VersionConflict, bool) {
	var e *APIError
	if !errors.As(err, &e) || e.Code != "version_conflict" {
		return nil, false
	}
	return &VersionConflict{
		CurrentVersion:   detailInt(e.Details, "current_version"),
		AttemptedVersion: detailInt(e.Details, "attempted_version"),
	}, true
}

func detailInt(d map[string]any, key string) int {
	if f, ok := d[key].(float64); ok {
		return int(f)
	}
	return 0
}

func statusIs(err error, code int) bool {
	var e *APIError
	return errors.As(err, &e) && e.StatusCode == code
}

// IsNotFound returns true if the error is a 404 not found.
func IsNotFound(err error) bool { return statusIs(err, 404) }

// IsConflict returns true if the error is a 409 conflict (duplicate or version).
func IsConflict(err error) bool { return statusIs(err, 409) }

// IsVersionConflict returns true if a versioned write lost a race.
func IsVersionConflict(err error) bool {
	_, ok := AsVersionConflict(err)
	return ok
}

// IsForbidden returns true if the requested scope is not allowed for the caller.
func IsForbidden(err error) bool { return statusIs(err, 403) }

// IsRateLimited returns true if the error is a 429 rate limit.
func IsRateLimited(err error) bool { return statusIs(err, 429) }

// parseAPIError attempts to decode a JSON error body; falls back to raw text.
func parseAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: statusCode}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Code == "" {
		apiErr.Code = "unknown"
		apiErr.Message = string(body)
	}
	return apiErr
}
