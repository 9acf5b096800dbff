package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertSnapshotSQL = `INSERT INTO collateral_snapshots (
        tick_ts,
        symbol,
        status,
        ref_per_tok,
        target_per_ref,
        price_per_target,
        price_uoa,
        price_fallback,
        block_number,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    ON CONFLICT (tick_ts, symbol) DO UPDATE
    SET
        status           = EXCLUDED.status,
        ref_per_tok      = EXCLUDED.ref_per_tok,
        target_per_ref   = EXCLUDED.target_per_ref,
        price_per_target = EXCLUDED.price_per_target,
        price_uoa        = EXCLUDED.price_uoa,
        price_fallback   = EXCLUDED.price_fallback,
        block_number     = EXCLUDED.block_number,
        error            = EXCLUDED.error;`

	listSnapshotsBetweenSQL = `SELECT
        tick_ts,
        symbol,
        status,
        ref_per_tok,
        target_per_ref,
        price_per_target,
        price_uoa,
        price_fallback,
        block_number,
        error,
        created_at
    FROM collateral_snapshots
    WHERE symbol = $1
      AND tick_ts >= $2
      AND tick_ts < $3
    ORDER BY tick_ts;`

	listRecentSnapshotsSQL = `SELECT
        tick_ts,
        symbol,
        status,
        ref_per_tok,
        target_per_ref,
        price_per_target,
        price_uoa,
        price_fallback,
        block_number,
        error,
        created_at
    FROM collateral_snapshots
    ORDER BY tick_ts DESC, symbol
    LIMIT $1;`

	countSnapshotsSQL = `SELECT COUNT(*) FROM collateral_snapshots;`

	insertStatusEventSQL = `INSERT INTO status_events (
        symbol,
        from_status,
        to_status,
        reason,
        occurred_at
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id, symbol, from_status, to_status, reason, occurred_at, created_at;`

	listRecentStatusEventsSQL = `SELECT
        id,
        symbol,
        from_status,
        to_status,
        reason,
        occurred_at,
        created_at
    FROM status_events
    ORDER BY occurred_at DESC
    LIMIT $1;`

	insertRewardClaimSQL = `INSERT INTO reward_claims (
        symbol,
        reward_token,
        amount,
        claimed_at
    ) VALUES (
        $1,$2,$3,$4
    )
    RETURNING id, symbol, reward_token, amount, claimed_at, created_at;`

	listRecentRewardClaimsSQL = `SELECT
        id,
        symbol,
        reward_token,
        amount,
        claimed_at,
        created_at
    FROM reward_claims
    ORDER BY claimed_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SnapshotStore defines operations for refresh snapshot persistence.
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, snap Snapshot) error
	ListSnapshotsBetween(ctx context.Context, symbol string, from, to time.Time) ([]Snapshot, error)
	ListRecentSnapshots(ctx context.Context, limit int) ([]Snapshot, error)
	CountSnapshots(ctx context.Context) (int64, error)
}

// StatusEventStore defines operations for transition auditing.
type StatusEventStore interface {
	InsertStatusEvent(ctx context.Context, event StatusEvent) (StatusEvent, error)
	ListRecentStatusEvents(ctx context.Context, limit int) ([]StatusEvent, error)
}

// RewardClaimStore defines operations for claim accounting.
type RewardClaimStore interface {
	InsertRewardClaim(ctx context.Context, claim RewardClaim) (RewardClaim, error)
	ListRecentRewardClaims(ctx context.Context, limit int) ([]RewardClaim, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to snapshots, status events, and reward claims.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertSnapshot persists or updates a refresh snapshot.
func (s *Store) UpsertSnapshot(ctx context.Context, snap Snapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var block interface{}
	if snap.BlockNumber != nil {
		block = *snap.BlockNumber
	}

	var errMsg interface{}
	if snap.Error != nil {
		errMsg = *snap.Error
	}

	_, execErr := pool.Exec(ctx, upsertSnapshotSQL,
		snap.Tick,
		snap.Symbol,
		snap.Status,
		snap.RefPerTok.String(),
		snap.TargetPerRef.String(),
		snap.PricePerTarget.String(),
		snap.Price.String(),
		snap.PriceFallback,
		block,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("upsert snapshot: %w", execErr)
	}
	return nil
}

// ListSnapshotsBetween lists one symbol's snapshots within a time window.
func (s *Store) ListSnapshotsBetween(ctx context.Context, symbol string, from, to time.Time) ([]Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSnapshotsBetweenSQL, symbol, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshots between: %w", queryErr)
	}
	defer rows.Close()

	snaps := make([]Snapshot, 0)
	for rows.Next() {
		snap, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snaps = append(snaps, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snaps, nil
}

// ListRecentSnapshots lists the most recent snapshots across all symbols.
func (s *Store) ListRecentSnapshots(ctx context.Context, limit int) ([]Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSnapshotsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", queryErr)
	}
	defer rows.Close()

	snaps := make([]Snapshot, 0, limit)
	for rows.Next() {
		snap, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snaps = append(snaps, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snaps, nil
}

// CountSnapshots counts stored snapshots.
func (s *Store) CountSnapshots(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSnapshotsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count snapshots: %w", scanErr)
	}
	return count, nil
}

// InsertStatusEvent persists a status transition.
func (s *Store) InsertStatusEvent(ctx context.Context, event StatusEvent) (StatusEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return StatusEvent{}, err
	}

	row := pool.QueryRow(ctx, insertStatusEventSQL,
		event.Symbol,
		event.FromStatus,
		event.ToStatus,
		event.Reason,
		event.OccurredAt,
	)

	var rec StatusEvent
	if scanErr := row.Scan(
		&rec.ID,
		&rec.Symbol,
		&rec.FromStatus,
		&rec.ToStatus,
		&rec.Reason,
		&rec.OccurredAt,
		&rec.CreatedAt,
	); scanErr != nil {
		return StatusEvent{}, fmt.Errorf("insert status event: %w", scanErr)
	}
	return rec, nil
}

// ListRecentStatusEvents lists the most recent transitions.
func (s *Store) ListRecentStatusEvents(ctx context.Context, limit int) ([]StatusEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentStatusEventsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent status events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]StatusEvent, 0, limit)
	for rows.Next() {
		var rec StatusEvent
		if err := rows.Scan(
			&rec.ID,
			&rec.Symbol,
			&rec.FromStatus,
			&rec.ToStatus,
			&rec.Reason,
			&rec.OccurredAt,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		events = append(events, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// InsertRewardClaim persists a RewardsClaimed emission.
func (s *Store) InsertRewardClaim(ctx context.Context, claim RewardClaim) (RewardClaim, error) {
	pool, err := s.getPool()
	if err != nil {
		return RewardClaim{}, err
	}

	row := pool.QueryRow(ctx, insertRewardClaimSQL,
		claim.Symbol,
		claim.Token,
		claim.Amount.String(),
		claim.ClaimedAt,
	)

	var rec RewardClaim
	var amountStr string
	if scanErr := row.Scan(
		&rec.ID,
		&rec.Symbol,
		&rec.Token,
		&amountStr,
		&rec.ClaimedAt,
		&rec.CreatedAt,
	); scanErr != nil {
		return RewardClaim{}, fmt.Errorf("insert reward claim: %w", scanErr)
	}

	var convErr error
	rec.Amount, convErr = decimal.NewFromString(amountStr)
	if convErr != nil {
		return RewardClaim{}, fmt.Errorf("parse claim amount: %w", convErr)
	}
	return rec, nil
}

// ListRecentRewardClaims lists the most recent claims.
func (s *Store) ListRecentRewardClaims(ctx context.Context, limit int) ([]RewardClaim, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRewardClaimsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent reward claims: %w", queryErr)
	}
	defer rows.Close()

	claims := make([]RewardClaim, 0, limit)
	for rows.Next() {
		var rec RewardClaim
		var amountStr string
		if err := rows.Scan(
			&rec.ID,
			&rec.Symbol,
			&rec.Token,
			&amountStr,
			&rec.ClaimedAt,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		rec.Amount, convErr = decimal.NewFromString(amountStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse claim amount: %w", convErr)
		}
		claims = append(claims, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return claims, nil
}

func scanSnapshot(rows pgx.Rows) (Snapshot, error) {
	var (
		tick      time.Time
		symbol    string
		statusStr string
		refStr    string
		tprStr    string
		pptStr    string
		priceStr  string
		fallback  bool
		block     sql.NullInt64
		errMsg    sql.NullString
		createdAt time.Time
	)

	if err := rows.Scan(
		&tick,
		&symbol,
		&statusStr,
		&refStr,
		&tprStr,
		&pptStr,
		&priceStr,
		&fallback,
		&block,
		&errMsg,
		&createdAt,
	); err != nil {
		return Snapshot{}, err
	}

	ref, err := decimal.NewFromString(refStr)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse ref_per_tok: %w", err)
	}
	tpr, err := decimal.NewFromString(tprStr)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse target_per_ref: %w", err)
	}
	ppt, err := decimal.NewFromString(pptStr)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse price_per_target: %w", err)
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse price_uoa: %w", err)
	}

	snap := Snapshot{
		Tick:           tick,
		Symbol:         symbol,
		Status:         statusStr,
		RefPerTok:      ref,
		TargetPerRef:   tpr,
		PricePerTarget: ppt,
		Price:          price,
		PriceFallback:  fallback,
		CreatedAt:      createdAt,
	}

	if block.Valid {
		value := block.Int64
		snap.BlockNumber = &value
	}
	if errMsg.Valid {
		msg := errMsg.String
		snap.Error = &msg
	}

	return snap, nil
}
