package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telhawk-systems/inbox/common/database"
	"github.com/telhawk-systems/inbox/internal/model"
)

// PostgresConfig tunes the connection pool.
type PostgresConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	Timeouts        database.Timeouts
}

// DefaultPostgresConfig returns pool settings suited to a single instance.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: time.Minute,
		Timeouts:        database.DefaultTimeouts(),
	}
}

type PostgresRepository struct {
	pool     *pgxpool.Pool
	timeouts database.Timeouts
}

func NewPostgresRepository(ctx context.Context, connString string, cfg PostgresConfig) (*PostgresRepository, error) {
	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	repo := &PostgresRepository{pool: pool, timeouts: cfg.Timeouts}
	if err := repo.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

const recordColumns = `id, counterparty_id, display_name, sender_id, body, occurred_at_ms, delivery_state, seq`

const upsertReplaceSQL = `
	INSERT INTO messages (id, counterparty_id, display_name, sender_id, body, occurred_at_ms, delivery_state)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO UPDATE SET
		counterparty_id = EXCLUDED.counterparty_id,
		display_name    = EXCLUDED.display_name,
		sender_id       = EXCLUDED.sender_id,
		body            = EXCLUDED.body,
		occurred_at_ms  = EXCLUDED.occurred_at_ms,
		delivery_state  = EXCLUDED.delivery_state,
		updated_at      = now()
	RETURNING (xmax = 0)
`

const upsertPreserveSQL = `
	INSERT INTO messages (id, counterparty_id, display_name, sender_id, body, occurred_at_ms, delivery_state)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO UPDATE SET
		counterparty_id = EXCLUDED.counterparty_id,
		display_name    = EXCLUDED.display_name,
		sender_id       = EXCLUDED.sender_id,
		body            = EXCLUDED.body,
		occurred_at_ms  = EXCLUDED.occurred_at_ms,
		updated_at      = now()
	RETURNING (xmax = 0)
`

func (r *PostgresRepository) Upsert(ctx context.Context, rec model.MessageRecord, mode UpsertMode) (bool, error) {
	ctx, cancel := r.timeouts.WriteContext(ctx)
	defer cancel()

	query := upsertReplaceSQL
	if mode == KeepDeliveryState {
		query = upsertPreserveSQL
	}

	var inserted bool
	err := r.pool.QueryRow(ctx, query,
		rec.ID, rec.CounterpartyID, rec.DisplayName, rec.SenderID,
		rec.Body, rec.OccurredAtMs, string(rec.DeliveryState),
	).Scan(&inserted)
	if err != nil {
		return false, classify("upsert message", err)
	}
	return inserted, nil
}

func (r *PostgresRepository) UpdateFields(ctx context.Context, id string, patch Patch) (bool, error) {
	ctx, cancel := r.timeouts.WriteContext(ctx)
	defer cancel()

	query := `
		UPDATE messages
		SET delivery_state = $2,
		    occurred_at_ms = CASE WHEN $3::bigint > 0 THEN $3::bigint ELSE occurred_at_ms END,
		    updated_at = now()
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, id, string(patch.State), patch.OccurredAtMs)
	if err != nil {
		return false, classify("update message fields", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, rec model.MessageRecord) (model.MessageRecord, error) {
	ctx, cancel := r.timeouts.WriteContext(ctx)
	defer cancel()

	query := `
		INSERT INTO messages (id, counterparty_id, display_name, sender_id, body, occurred_at_ms, delivery_state)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq
	`
	err := r.pool.QueryRow(ctx, query,
		rec.ID, rec.CounterpartyID, rec.DisplayName, rec.SenderID,
		rec.Body, rec.OccurredAtMs, string(rec.DeliveryState),
	).Scan(&rec.Seq)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.MessageRecord{}, ErrAlreadyExists
		}
		return model.MessageRecord{}, classify("insert message", err)
	}
	return rec, nil
}

func (r *PostgresRepository) QueryAll(ctx context.Context) ([]model.MessageRecord, error) {
	ctx, cancel := r.timeouts.QueryContext(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM messages ORDER BY seq`)
	if err != nil {
		return nil, classify("query messages", err)
	}
	return collectRecords(rows)
}

func (r *PostgresRepository) QueryByCounterparty(ctx context.Context, counterpartyID string) ([]model.MessageRecord, error) {
	ctx, cancel := r.timeouts.QueryContext(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM messages WHERE counterparty_id = $1 ORDER BY seq`,
		counterpartyID)
	if err != nil {
		return nil, classify("query messages by counterparty", err)
	}
	return collectRecords(rows)
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (model.MessageRecord, error) {
	ctx, cancel := r.timeouts.QueryContext(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM messages WHERE id = $1`, id)
	if err != nil {
		return model.MessageRecord{}, classify("get message", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.MessageRecord{}, ErrNotFound
		}
		return model.MessageRecord{}, classify("get message", err)
	}
	return rec, nil
}

func (r *PostgresRepository) Count(ctx context.Context) (int, error) {
	ctx, cancel := r.timeouts.QueryContext(ctx)
	defer cancel()

	var n int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM messages`).Scan(&n); err != nil {
		return 0, classify("count messages", err)
	}
	return n, nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	ctx, cancel := r.timeouts.QueryContext(ctx)
	defer cancel()

	if err := r.pool.Ping(ctx); err != nil {
		return unavailable("ping database", err)
	}
	return nil
}

func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

func scanRecord(row pgx.CollectableRow) (model.MessageRecord, error) {
	var rec model.MessageRecord
	var state string
	err := row.Scan(&rec.ID, &rec.CounterpartyID, &rec.DisplayName, &rec.SenderID,
		&rec.Body, &rec.OccurredAtMs, &state, &rec.Seq)
	rec.DeliveryState = model.DeliveryState(state)
	return rec, err
}

func collectRecords(rows pgx.Rows) ([]model.MessageRecord, error) {
	recs, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, classify("scan messages", err)
	}
	if recs == nil {
		recs = []model.MessageRecord{}
	}
	return recs, nil
}

// classify keeps server-side errors as plain failures and marks everything
// else, such as dial errors and timeouts, as the store being unavailable.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return unavailable(op, err)
}
