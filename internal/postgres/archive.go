package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/relayops/agent-runtime/internal/domain"
	"github.com/relayops/agent-runtime/internal/errval"
)

// uniqueViolationCode is the Postgres error code for duplicate key inserts.
// The archive treats duplicates as success: at-least-once execution can
// produce the same terminal result twice.
const uniqueViolationCode = "23505"

const insertResultSQL = `
INSERT INTO task_results (task_id, agent_name, success, output, error, execution_time_ms, metadata, completed_at_stamp)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

const getResultByTaskIDSQL = `
SELECT task_id, agent_name, success, output, error, execution_time_ms, metadata, completed_at_stamp
FROM task_results
WHERE task_id = $1
`

const getRecentResultsSQL = `
SELECT task_id, agent_name, success, output, error, execution_time_ms, metadata, completed_at_stamp
FROM task_results
ORDER BY completed_at_stamp DESC
LIMIT $1
`

type archive struct {
	pool *pgxpool.Pool
}

func NewArchive(ctx context.Context, dsn string) (*archive, error) {
	var pool *pgxpool.Pool
	var err error

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	err = backoff.Retry(func() error {
		if pool, err = pgxpool.ConnectConfig(ctx, config); err != nil {
			slog.ErrorContext(ctx, "failed to connect to postgres database.. retrying...", "error", err)
			return err
		}

		if err = pool.Ping(ctx); err != nil {
			slog.ErrorContext(ctx, "failed to ping postgres database connection.. retrying...", "error", err)
			return err
		}

		return nil
	}, backoff.WithMaxRetries(backoff.NewConstantBackOff(3*time.Second), 5))

	if err != nil {
		return nil, err
	}

	return &archive{pool: pool}, nil
}

func (a *archive) InsertResult(ctx context.Context, result *domain.TaskResult) error {
	var metadataJSON pgtype.JSON
	metadataBytes, err := json.Marshal(result.Metadata)
	if err != nil {
		return err
	}
	if err := metadataJSON.Set(metadataBytes); err != nil {
		return err
	}

	_, err = a.pool.Exec(ctx, insertResultSQL,
		result.TaskID,
		result.AgentName,
		result.Success,
		result.Output,
		result.Error,
		result.ExecutionTimeMs,
		metadataJSON,
		result.CompletedAtStamp,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			slog.Info("Result is already archived, skipping duplicate insert", "task_id", result.TaskID)
			return nil
		}
		return err
	}

	return nil
}

func (a *archive) GetResultByTaskID(ctx context.Context, taskID string) (*domain.TaskResult, error) {
	row := a.pool.QueryRow(ctx, getResultByTaskIDSQL, taskID)

	result, err := scanResult(row)
	if err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return nil, errval.ErrNotFound
		}
		return nil, err
	}

	return result, nil
}

func (a *archive) GetRecentResults(ctx context.Context, limit int32) ([]*domain.TaskResult, error) {
	rows, err := a.pool.Query(ctx, getRecentResultsSQL, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []*domain.TaskResult{}
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(results) == 0 {
		return nil, errval.ErrNotFound
	}

	return results, nil
}

func (a *archive) Ping(ctx context.Context) (err error) {
	return a.pool.Ping(ctx)
}

func scanResult(row pgx.Row) (*domain.TaskResult, error) {
	result := new(domain.TaskResult)
	var metadataJSON pgtype.JSON

	err := row.Scan(
		&result.TaskID,
		&result.AgentName,
		&result.Success,
		&result.Output,
		&result.Error,
		&result.ExecutionTimeMs,
		&metadataJSON,
		&result.CompletedAtStamp,
	)
	if err != nil {
		return nil, err
	}

	if len(metadataJSON.Bytes) > 0 {
		if err := json.Unmarshal(metadataJSON.Bytes, &result.Metadata); err != nil {
			return nil, err
		}
	}

	return result, nil
}
