package gateway

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/nodeflow-io/nodeflow/pkg/models"
)

// authConfig is the decrypted shape of a webhook's auth settings. Only the
// fields for the configured auth type are populated.
type authConfig struct {
	Header   string `json:"header"`
	Value    string `json:"value"`
	Username string `json:"username"`
	Password string `json:"password"`
	Token    string `json:"token"`
}

// authorize checks the call against the webhook's auth type. A webhook whose
// auth config cannot be decrypted or came back empty lets the call through
// unless the gateway is configured fail-closed.
func (g *Gateway) authorize(webhook *models.Webhook, req *Request) error {
	if webhook.AuthType == models.WebhookAuthNone || webhook.AuthType == "" {
		return nil
	}

	cfg, ok := g.decryptAuthConfig(webhook)
	if !ok {
		if g.config.FailClosed {
			return ErrUnauthorized
		}

		return nil
	}

	switch webhook.AuthType {
	case models.WebhookAuthHeader:
		return checkHeaderAuth(cfg, req)
	case models.WebhookAuthBasic:
		return checkBasicAuth(cfg, req)
	case models.WebhookAuthBearer:
		return checkBearerAuth(cfg, req)
	default:
		return ErrUnauthorized
	}
}

func (g *Gateway) decryptAuthConfig(webhook *models.Webhook) (*authConfig, bool) {
	if webhook.AuthConfig == "" {
		return nil, false
	}

	plaintext, err := g.decryptor.Decrypt(webhook.AuthConfig)
	if err != nil {
		g.logger.Warn("failed to decrypt webhook auth config", "webhook_id", webhook.ID)

		return nil, false
	}

	var cfg authConfig
	if err := json.Unmarshal([]byte(plaintext), &cfg); err != nil {
		return nil, false
	}

	if cfg == (authConfig{}) {
		return nil, false
	}

	return &cfg, true
}

func checkHeaderAuth(cfg *authConfig, req *Request) error {
	if cfg.Header == "" || cfg.Value == "" {
		return ErrUnauthorized
	}

	if !secureEqual(headerValue(req.Headers, cfg.Header), cfg.Value) {
		return ErrUnauthorized
	}

	return nil
}

func checkBasicAuth(cfg *authConfig, req *Request) error {
	encoded, ok := strings.CutPrefix(headerValue(req.Headers, "Authorization"), "Basic ")
	if !ok {
		return ErrUnauthorized
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ErrUnauthorized
	}

	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return ErrUnauthorized
	}

	if !secureEqual(username, cfg.Username) || !secureEqual(password, cfg.Password) {
		return ErrUnauthorized
	}

	return nil
}

func checkBearerAuth(cfg *authConfig, req *Request) error {
	token, ok := strings.CutPrefix(headerValue(req.Headers, "Authorization"), "Bearer ")
	if !ok {
		return ErrUnauthorized
	}

	if !secureEqual(token, cfg.Token) {
		return ErrUnauthorized
	}

	return nil
}

func headerValue(headers map[string]string, name string) string {
	for key, value := range headers {
		if strings.EqualFold(key, name) {
			return value
		}
	}

	return ""
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
