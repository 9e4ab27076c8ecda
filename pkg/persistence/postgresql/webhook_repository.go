package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nodeflow-io/nodeflow/pkg/models"
	"github.com/nodeflow-io/nodeflow/pkg/persistence"
)

// WebhookRepository reads webhook trigger descriptors.
type WebhookRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWebhookRepository creates a new webhook repository.
func NewWebhookRepository(db *sql.DB, logger *slog.Logger) *WebhookRepository {
	return &WebhookRepository{db: db, logger: logger}
}

func (r *WebhookRepository) ActiveWebhookByUUID(ctx context.Context, uuid string) (*models.Webhook, error) {
	query := `
		SELECT id, uuid, workflow_id, workspace_id, path, methods, auth_type,
			   auth_config, rate_limit, response_status, response_body,
			   payload_schema, call_count, active
		FROM webhooks
		WHERE uuid = $1 AND active = TRUE
	`

	webhook := &models.Webhook{}

	var (
		methodsRaw, bodyRaw, schemaRaw []byte
		authConfig                     sql.NullString
		rateLimit                      sql.NullInt64
	)

	err := r.db.QueryRowContext(ctx, query, uuid).Scan(
		&webhook.ID,
		&webhook.UUID,
		&webhook.WorkflowID,
		&webhook.WorkspaceID,
		&webhook.Path,
		&methodsRaw,
		&webhook.AuthType,
		&authConfig,
		&rateLimit,
		&webhook.ResponseStatus,
		&bodyRaw,
		&schemaRaw,
		&webhook.CallCount,
		&webhook.Active,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("ActiveWebhookByUUID", uuid, persistence.ErrWebhookNotFound)
		}

		return nil, fmt.Errorf("failed to scan webhook: %w", err)
	}

	if len(methodsRaw) > 0 {
		if err := json.Unmarshal(methodsRaw, &webhook.Methods); err != nil {
			return nil, fmt.Errorf("failed to unmarshal webhook methods: %w", err)
		}
	}

	if authConfig.Valid {
		webhook.AuthConfig = authConfig.String
	}

	if rateLimit.Valid {
		limit := int(rateLimit.Int64)
		webhook.RateLimit = &limit
	}

	if err := unmarshalJSON(bodyRaw, &webhook.ResponseBody); err != nil {
		return nil, err
	}

	if err := unmarshalJSON(schemaRaw, &webhook.PayloadSchema); err != nil {
		return nil, err
	}

	return webhook, nil
}

func (r *WebhookRepository) IncrementCallCount(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "UPDATE webhooks SET call_count = call_count + 1 WHERE id = $1", id)
	if err != nil {
		return persistence.NewStoreError("IncrementCallCount", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewStoreError("IncrementCallCount", id, persistence.ErrWebhookNotFound)
	}

	return nil
}
