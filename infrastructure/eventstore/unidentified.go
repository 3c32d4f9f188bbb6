package eventstore

import (
	"context"
	"time"

	"github.com/google/uuid"

	infraerrors "github.com/eld-core/ingestion/infrastructure/errors"

	"github.com/eld-core/ingestion/domain/unidentified"
)

// UnidentifiedStore is the Postgres adapter for unidentified-driving
// records: the automatic driving blocks recorded against no
// authenticated driver, held open for carrier review until claimed,
// rejected, or aged past unidentified.DefaultMaxAge.
type UnidentifiedStore struct {
	db dbHandle
}

// NewUnidentifiedStore builds an UnidentifiedStore over an already-opened
// database handle.
func NewUnidentifiedStore(db dbHandle) *UnidentifiedStore {
	return &UnidentifiedStore{db: db}
}

// Create persists a newly-opened unidentified driving record, assigning
// it an ID since the records table has no default generator of its own.
func (s *UnidentifiedStore) Create(ctx context.Context, rec unidentified.Record) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO unidentified_driving_records
			(id, device_id, vehicle_id, log_date, started_at, ended_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`, id, rec.DeviceID, rec.VehicleID, rec.LogDate, rec.StartedAt, rec.EndedAt, string(unidentified.StatusOpen))
	if err != nil {
		return "", infraerrors.DatabaseError("unidentified_create", err)
	}
	return id, nil
}

// ListOpen returns every record still awaiting disposition, used to seed
// the scheduler's expiry sweep.
func (s *UnidentifiedStore) ListOpen(ctx context.Context) ([]unidentified.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device_id, vehicle_id, log_date, started_at, ended_at, status, created_at, updated_at
		FROM unidentified_driving_records
		WHERE status = $1
		ORDER BY started_at ASC
	`, string(unidentified.StatusOpen))
	if err != nil {
		return nil, infraerrors.DatabaseError("unidentified_list_open", err)
	}
	defer rows.Close()

	var out []unidentified.Record
	for rows.Next() {
		var r unidentified.Record
		var status string
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.VehicleID, &r.LogDate, &r.StartedAt, &r.EndedAt, &status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, infraerrors.DatabaseError("unidentified_list_open_scan", err)
		}
		r.Status = unidentified.Status(status)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, infraerrors.DatabaseError("unidentified_list_open_rows", err)
	}
	return out, nil
}

// MarkExpired transitions a record to EXPIRED, recording the moment the
// sweep aged it out.
func (s *UnidentifiedStore) MarkExpired(ctx context.Context, id string, expiredAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE unidentified_driving_records
		SET status = $1, expired_at = $2, updated_at = $2
		WHERE id = $3 AND status = $4
	`, string(unidentified.StatusExpired), expiredAt, id, string(unidentified.StatusOpen))
	if err != nil {
		return infraerrors.DatabaseError("unidentified_mark_expired", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return infraerrors.DatabaseError("unidentified_mark_expired_rows", err)
	}
	if n == 0 {
		return infraerrors.NotFound("unidentified_driving_record", id)
	}
	return nil
}
