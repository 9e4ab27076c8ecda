package cmd

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/nodeflow-io/nodeflow/pkg/secrets"
)

// NewDecryptor builds the AES-256-GCM decryptor from a base64-encoded
// 32-byte key. A "base64:" prefix on the value is accepted and stripped.
func NewDecryptor(encryptionKey string) (secrets.Decryptor, error) {
	encoded := strings.TrimPrefix(encryptionKey, "base64:")

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid base64: %w", err)
	}

	return secrets.NewAESGCM(key)
}
