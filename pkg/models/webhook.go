package models

import "strings"

// WebhookAuthType selects how inbound webhook calls are authenticated.
type WebhookAuthType string

const (
	WebhookAuthNone   WebhookAuthType = "none"
	WebhookAuthHeader WebhookAuthType = "header"
	WebhookAuthBasic  WebhookAuthType = "basic"
	WebhookAuthBearer WebhookAuthType = "bearer"
)

// Webhook is the trigger descriptor consumed by the gateway. It is owned by
// the management API; the gateway only reads it and bumps the call counter.
type Webhook struct {
	ID             string          `json:"id"`
	UUID           string          `json:"uuid"`
	WorkflowID     string          `json:"workflow_id"`
	WorkspaceID    int64           `json:"workspace_id"`
	Path           string          `json:"path,omitempty"`
	Methods        []string        `json:"methods"`
	AuthType       WebhookAuthType `json:"auth_type"`
	AuthConfig     string          `json:"-"`
	RateLimit      *int            `json:"rate_limit,omitempty"`
	ResponseStatus int             `json:"response_status"`
	ResponseBody   map[string]any  `json:"response_body,omitempty"`
	PayloadSchema  map[string]any  `json:"payload_schema,omitempty"`
	CallCount      int64           `json:"call_count"`
	Active         bool            `json:"active"`
}

// IsMethodAllowed reports whether the HTTP method is accepted. An empty
// method list allows everything.
func (w *Webhook) IsMethodAllowed(method string) bool {
	if len(w.Methods) == 0 {
		return true
	}

	for _, m := range w.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}

	return false
}

// MatchesPath reports whether the caller-supplied sub-path matches the
// configured one. A webhook with a path rejects calls without it, and a
// webhook without a path rejects calls that supply one; both cases surface
// as the same not-found to the caller.
func (w *Webhook) MatchesPath(subPath string) bool {
	return w.Path == subPath
}

// HasPayloadSchema reports whether inbound bodies must validate against a
// JSON schema before an execution is created.
func (w *Webhook) HasPayloadSchema() bool {
	return len(w.PayloadSchema) > 0
}
