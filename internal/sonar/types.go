package sonar

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Status values reported by GET /api/system/status.
const (
	StatusUp       = "UP"
	StatusDown     = "DOWN"
	StatusStarting = "STARTING"
)

// SystemStatus is the reply from GET /api/system/status.
type SystemStatus struct {
	ID      string `json:"id,omitempty"`
	Version string `json:"version,omitempty"`
	Status  string `json:"status"`
}

// BasicAuth is the principal a request authenticates as. Provisioning calls
// run as the administrator; token generation may run as the account itself.
type BasicAuth struct {
	Username string
	Password string
}

// TokenResponse is the reply from POST /api/user_tokens/generate.
type TokenResponse struct {
	Login     string `json:"login"`
	Name      string `json:"name"`
	Token     string `json:"token"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// apiErrorBody is the service's error envelope: {"errors":[{"msg":"..."}]}.
type apiErrorBody struct {
	Errors []struct {
		Msg string `json:"msg"`
	} `json:"errors"`
}

// APIError is a final (non-retried) failure reply from the service.
type APIError struct {
	Status   int
	Messages []string // parsed from the error envelope, may be empty
	Body     string   // raw body, kept for non-JSON replies
}

func (e *APIError) Error() string {
	if len(e.Messages) > 0 {
		return fmt.Sprintf("sonar returned %d: %s", e.Status, strings.Join(e.Messages, "; "))
	}
	if e.Body != "" {
		return fmt.Sprintf("sonar returned %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("sonar returned %d", e.Status)
}

// parseAPIError decodes the error envelope leniently. Unparseable bodies are
// kept raw so nothing from the reply is lost.
func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status, Body: string(body)}

	var wire apiErrorBody
	if err := json.Unmarshal(body, &wire); err == nil {
		for _, item := range wire.Errors {
			if item.Msg != "" {
				apiErr.Messages = append(apiErr.Messages, item.Msg)
			}
		}
	}
	return apiErr
}

// IsAlreadyExists reports whether err is the service rejecting a create
// because the resource is already there. Matching is a case-insensitive
// substring check on the reply messages: the service has no dedicated
// status code for this, only the message text.
func IsAlreadyExists(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, msg := range apiErr.Messages {
		if strings.Contains(strings.ToLower(msg), "already exists") {
			return true
		}
	}
	return strings.Contains(strings.ToLower(apiErr.Body), "already exists")
}
