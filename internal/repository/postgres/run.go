package postgres

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"minerva/internal/domain/run"
	"minerva/pkg/errors"
)

// RunRepository persists run rows and final decisions.
type RunRepository struct {
	db *sqlx.DB
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sqlx.DB) *RunRepository {
	return &RunRepository{db: db}
}

// InsertRun records a freshly started run.
func (r *RunRepository) InsertRun(ctx context.Context, rec *run.Run) error {
	cfg, err := json.Marshal(rec.Config)
	if err != nil {
		return errors.Wrap(err, "encode run config")
	}

	query := `
		INSERT INTO runs (
			run_id, symbol, trade_date, model_id, agent_version,
			config_json, status, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = r.db.ExecContext(ctx, query,
		rec.ID, rec.Config.Symbol, rec.Config.TradeDate, rec.Config.ModelID,
		rec.Config.AgentVersion, cfg, rec.Status, rec.StartedAt,
	)
	if err != nil {
		return errors.Wrap(err, "insert run")
	}
	return nil
}

// CompleteRun finalises the run row and, on success, stores the decision.
func (r *RunRepository) CompleteRun(ctx context.Context, rec *run.Run) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`UPDATE runs SET status = $2, error = $3, completed_at = $4 WHERE run_id = $1`,
		rec.ID, rec.Status, rec.Error, rec.CompletedAt,
	)
	if err != nil {
		return errors.Wrap(err, "update run")
	}

	if rec.Decision != nil {
		payload, err := json.Marshal(rec.Decision)
		if err != nil {
			return errors.Wrap(err, "encode decision")
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO decisions (
				run_id, symbol, trade_date, model_id, agent_version,
				final_decision_json, created_at, input_fingerprint
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (run_id) DO NOTHING`,
			rec.Decision.RunID, rec.Decision.Symbol, rec.Decision.TradeDate,
			rec.Decision.ModelID, rec.Decision.AgentVersion, payload,
			rec.Decision.CreatedAt, rec.Decision.InputFingerprint,
		)
		if err != nil {
			return errors.Wrap(err, "insert decision")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

// GetDecision loads a persisted decision by run id.
func (r *RunRepository) GetDecision(ctx context.Context, runID uuid.UUID) (*run.Decision, error) {
	var payload []byte
	err := r.db.GetContext(ctx, &payload,
		`SELECT final_decision_json FROM decisions WHERE run_id = $1`, runID)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrNotFound, "decision for run %s", runID)
	}

	var decision run.Decision
	if err := json.Unmarshal(payload, &decision); err != nil {
		return nil, errors.Wrap(err, "decode decision")
	}
	return &decision, nil
}
