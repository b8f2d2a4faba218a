package repositories

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BradenHooton/autobot/internal/database"
	"github.com/BradenHooton/autobot/internal/models"
)

// RunStateRepository stores the per-account run state in PostgreSQL
type RunStateRepository struct {
	db *database.DB
}

// NewRunStateRepository creates a new RunStateRepository
func NewRunStateRepository(db *database.DB) *RunStateRepository {
	return &RunStateRepository{db: db}
}

// Load returns the run state of an account, or models.ErrNotFound
func (r *RunStateRepository) Load(ctx context.Context, accountName string) (*models.RunState, error) {
	query := `
		SELECT account_name, poll_data, login_key, login_attempts, updated_at
		FROM bot_run_state
		WHERE account_name = $1
	`

	var (
		state    models.RunState
		pollData []byte
	)
	err := r.db.Pool.QueryRow(ctx, query, accountName).Scan(
		&state.AccountName,
		&pollData,
		&state.LoginKey,
		&state.LoginAttempts,
		&state.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if len(pollData) > 0 {
		state.PollData = json.RawMessage(pollData)
	}
	return &state, nil
}

// SaveLoginAttempts replaces the stored login attempt timestamps
func (r *RunStateRepository) SaveLoginAttempts(ctx context.Context, accountName string, attempts []time.Time) error {
	query := `
		INSERT INTO bot_run_state (account_name, login_attempts, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (account_name) DO UPDATE
		SET login_attempts = EXCLUDED.login_attempts, updated_at = NOW()
	`

	if attempts == nil {
		attempts = []time.Time{}
	}
	_, err := r.db.Pool.Exec(ctx, query, accountName, attempts)
	return database.MapPostgresError(err)
}

// SaveLoginKey replaces the stored login key
func (r *RunStateRepository) SaveLoginKey(ctx context.Context, accountName, loginKey string) error {
	query := `
		INSERT INTO bot_run_state (account_name, login_key, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (account_name) DO UPDATE
		SET login_key = EXCLUDED.login_key, updated_at = NOW()
	`

	_, err := r.db.Pool.Exec(ctx, query, accountName, loginKey)
	return database.MapPostgresError(err)
}

// SavePollData replaces the stored trade poll data
func (r *RunStateRepository) SavePollData(ctx context.Context, accountName string, pollData json.RawMessage) error {
	query := `
		INSERT INTO bot_run_state (account_name, poll_data, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (account_name) DO UPDATE
		SET poll_data = EXCLUDED.poll_data, updated_at = NOW()
	`

	_, err := r.db.Pool.Exec(ctx, query, accountName, []byte(pollData))
	return database.MapPostgresError(err)
}
