package eventstore

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	infraerrors "github.com/eld-core/ingestion/infrastructure/errors"

	"github.com/eld-core/ingestion/domain/logperiod"
)

// LogPeriodStore is the Postgres adapter for the per-(driver, log date)
// certification record.
type LogPeriodStore struct {
	db dbHandle
}

// NewLogPeriodStore builds a LogPeriodStore over an already-opened
// database handle.
func NewLogPeriodStore(db dbHandle) *LogPeriodStore {
	return &LogPeriodStore{db: db}
}

// GetOrCreate returns the log period for the given key, opening a fresh one
// if none exists yet.
func (s *LogPeriodStore) GetOrCreate(ctx context.Context, key logperiod.Key) (logperiod.LogPeriod, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, driver_id, log_date, status, certified_at, recertified_at, rejected_at, created_at, updated_at
		FROM log_periods
		WHERE driver_id = $1 AND log_date = $2
	`, key.DriverID, key.LogDate)

	p, err := scanLogPeriod(row)
	if err == nil {
		return p, nil
	}
	if !isNoRows(err) {
		return logperiod.LogPeriod{}, infraerrors.DatabaseError("log_period_get", err)
	}

	fresh := logperiod.New(key.DriverID, key.LogDate)
	fresh.ID = uuid.NewString()
	if err := s.insert(ctx, fresh); err != nil {
		return logperiod.LogPeriod{}, err
	}
	return fresh, nil
}

func (s *LogPeriodStore) insert(ctx context.Context, p logperiod.LogPeriod) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO log_periods (id, driver_id, log_date, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (driver_id, log_date) DO NOTHING
	`, p.ID, p.DriverID, p.LogDate, string(p.Status), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return infraerrors.DatabaseError("log_period_insert", err)
	}
	return nil
}

// Save persists a log period's current state, used after a Close, Certify,
// Recertify, or Reject transition.
func (s *LogPeriodStore) Save(ctx context.Context, p logperiod.LogPeriod) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE log_periods
		SET status = $1, certified_at = $2, recertified_at = $3, rejected_at = $4, updated_at = $5
		WHERE id = $6
	`, string(p.Status), p.CertifiedAt, p.RecertifiedAt, p.RejectedAt, p.UpdatedAt, p.ID)
	if err != nil {
		return infraerrors.DatabaseError("log_period_save", err)
	}
	return nil
}

func scanLogPeriod(row *sql.Row) (logperiod.LogPeriod, error) {
	var p logperiod.LogPeriod
	var status string
	err := row.Scan(&p.ID, &p.DriverID, &p.LogDate, &status,
		&p.CertifiedAt, &p.RecertifiedAt, &p.RejectedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return logperiod.LogPeriod{}, err
	}
	p.Status = logperiod.Status(status)
	return p, nil
}
