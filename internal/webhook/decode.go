package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"

	"chatrelay/internal/domain"
)

// wireResponse is the backend's JSON answer to a forwarded envelope.
type wireResponse struct {
	Status    string            `json:"status"`
	UserID    string            `json:"user_id"`
	Message   string            `json:"message,omitempty"`
	Command   string            `json:"command,omitempty"`
	Script    string            `json:"script,omitempty"`
	UserStats *domain.UserStats `json:"user_stats,omitempty"`
}

// DecodeResponse parses a backend body into a domain.Response. Unknown
// statuses decode to domain.Unrecognized, as does a body that is empty or
// not a JSON object.
func DecodeResponse(body []byte) (domain.Response, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return domain.Unrecognized{}, nil
	}

	var w wireResponse
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	switch w.Status {
	case domain.StatusTextReceived:
		if w.UserStats == nil {
			return nil, fmt.Errorf("%w: text_received without user_stats", ErrMalformedResponse)
		}
		return domain.TextReceived{UserID: w.UserID, Command: w.Command, Stats: *w.UserStats}, nil
	case domain.StatusRateLimited:
		return domain.RateLimited{UserID: w.UserID, Message: w.Message}, nil
	case domain.StatusError:
		return domain.BackendError{UserID: w.UserID, Message: w.Message}, nil
	case domain.StatusScriptReceived:
		return domain.ScriptReceived{UserID: w.UserID, Message: w.Message}, nil
	case domain.StatusDocProcessed:
		return domain.DocProcessed{UserID: w.UserID, Script: w.Script}, nil
	default:
		return domain.Unrecognized{Raw: w.Status, UserID: w.UserID}, nil
	}
}
