package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeflow-io/nodeflow/pkg/channel"
	"github.com/nodeflow-io/nodeflow/pkg/dispatcher"
	"github.com/nodeflow-io/nodeflow/pkg/gateway"
	"github.com/nodeflow-io/nodeflow/pkg/persistence/memory"
	"github.com/nodeflow-io/nodeflow/pkg/ratelimit"
)

type discardPublisher struct{}

func (discardPublisher) Publish(_ context.Context, _ int, _ *channel.JobMessage) error { return nil }
func (discardPublisher) Close() error                                                  { return nil }

type plainDecryptor struct{}

func (plainDecryptor) Decrypt(ciphertext string) (string, error) { return ciphertext, nil }

func setupTestApp() *fiber.App {
	api := NewAPI(
		slog.Default(),
		memory.NewPersistence(),
		discardPublisher{},
		plainDecryptor{},
		ratelimit.NewMemory(),
		dispatcher.Config{BaseURL: "http://localhost:9080"},
		gateway.Config{},
		false,
	)

	return api.App()
}

func TestAPI_RootEndpoint(t *testing.T) {
	app := setupTestApp()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "NodeFlow Coordination API", string(body))
}

func TestAPI_HealthCheck(t *testing.T) {
	app := setupTestApp()

	for _, path := range []string{"/livez", "/readyz", "/health"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestAPI_UnknownWebhookIs404(t *testing.T) {
	app := setupTestApp()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/00000000-0000-0000-0000-000000000000", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
