// Package eventstore is the Postgres-backed persistence adapter for the
// event log: the event table, sequence-allocator state, and the read
// paths the sync protocol and gap-detection reporting need. The eld_events
// table the migrations create is not partitioned. Of the reads that touch
// it, FindByScope and FindByCarrierUpdatedAfter carry a timestamp range;
// LastInScope, FindBySequence, DetectGaps and ResolveEdit do not.
package eventstore

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/eld-core/ingestion/domain/eldevent"
	"github.com/eld-core/ingestion/domain/sequence"
	infraerrors "github.com/eld-core/ingestion/infrastructure/errors"
)

const activeRecordStatus = int(eldevent.RecordStatusActive)

// editedRecordStatuses is the set of record_status values a carrier-side
// correction can carry once proposed, used by FindByCarrierUpdatedAfter to
// surface edits a device has not synced yet even though the superseded
// original is no longer the active row in its scope.
var editedRecordStatuses = []int{
	int(eldevent.RecordStatusInactiveChanged),
	int(eldevent.RecordStatusInactiveChangedRequested),
	int(eldevent.RecordStatusInactiveChangedRejected),
}

const eventColumnList = `id, device_id, driver_id, vehicle_id, carrier_id, log_date, event_type,
	       event_sub_type, duty_status, origin, event_timestamp, recorded_at, latitude, longitude,
	       location_description, distance_since_last_km, engine_hours, odometer, annotation, sequence_id,
	       content_hash, chain_hash, client_key, record_status, edit_of_id, requires_driver_review,
	       created_at, updated_at`

// Store implements domain/ingestion.Store and domain/syncprotocol.EventSource
// against a Postgres eld_events / sequence_id_states schema.
type Store struct {
	db dbHandle
}

// dbHandle is the subset of *sqlx.DB this package relies on, satisfied by
// both *sqlx.DB and the *sql.DB that go-sqlmock provides in tests.
type dbHandle interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// txHandle is the subset of *sql.Tx the transactional methods below drive,
// satisfied by *sql.Tx itself.
type txHandle interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// NewStore builds a Store over an already-opened database handle.
func NewStore(db dbHandle) *Store {
	return &Store{db: db}
}

// LastInScope implements findPriorForChain: the highest-sequence active
// event in scope, used to seed hash-chain linking and the chain-ordering
// check.
func (s *Store) LastInScope(ctx context.Context, scope eldevent.Scope) (eldevent.Event, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+eventColumnList+`
		FROM eld_events
		WHERE device_id = $1 AND log_date = $2 AND record_status = $3
		ORDER BY sequence_id DESC
		LIMIT 1
	`, scope.DeviceID, scope.LogDate, activeRecordStatus)

	e, err := scanEvent(row)
	if err != nil {
		if isNoRows(err) {
			return eldevent.Event{}, false, nil
		}
		return eldevent.Event{}, false, infraerrors.DatabaseError("find_prior_for_chain", err)
	}
	return e, true, nil
}

// SequenceState returns the allocator's persisted state for scope, or the
// zero state if the scope has never issued a sequence ID.
func (s *Store) SequenceState(ctx context.Context, scope eldevent.Scope) (sequence.State, error) {
	var state sequence.State
	row := s.db.QueryRowContext(ctx, `
		SELECT last_issued_id, reserved_up_to
		FROM sequence_id_states
		WHERE device_id = $1 AND log_date = $2
	`, scope.DeviceID, scope.LogDate)

	if err := row.Scan(&state.LastIssued, &state.ReservedUpTo); err != nil {
		if isNoRows(err) {
			return sequence.State{}, nil
		}
		return sequence.State{}, infraerrors.DatabaseError("sequence_state", err)
	}
	return state, nil
}

// FindBySequence implements findBySequence: the single event (of any
// record status) occupying a scope's sequence ID, used to distinguish an
// idempotent replay from a genuine content conflict when a client
// resubmits a sequence ID it previously proposed.
func (s *Store) FindBySequence(ctx context.Context, scope eldevent.Scope, sequenceID int) (eldevent.Event, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+eventColumnList+`
		FROM eld_events
		WHERE device_id = $1 AND log_date = $2 AND sequence_id = $3
		ORDER BY record_status ASC
		LIMIT 1
	`, scope.DeviceID, scope.LogDate, sequenceID)

	e, err := scanEvent(row)
	if err != nil {
		if isNoRows(err) {
			return eldevent.Event{}, false, nil
		}
		return eldevent.Event{}, false, infraerrors.DatabaseError("find_by_sequence", err)
	}
	return e, true, nil
}

// Persist implements insert: the event row and its scope's advanced
// allocator state are written atomically, so a crash between the two
// never leaves the allocator ahead of what was actually committed. The
// row's record_status is whatever the caller set (normally active;
// ProposeEdit uses this same path to land a pending correction).
func (s *Store) Persist(ctx context.Context, event eldevent.Event, nextState sequence.State) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return infraerrors.DatabaseError("persist_begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertEvent(ctx, tx, event); err != nil {
		return infraerrors.DatabaseError("persist_insert_event", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sequence_id_states (device_id, log_date, last_issued_id, reserved_up_to, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (device_id, log_date) DO UPDATE
			SET last_issued_id = EXCLUDED.last_issued_id,
			    reserved_up_to = EXCLUDED.reserved_up_to,
			    updated_at = NOW()
	`, event.DeviceID, event.LogDate, nextState.LastIssued, nextState.ReservedUpTo)
	if err != nil {
		return infraerrors.DatabaseError("persist_sequence_state", err)
	}

	if err := tx.Commit(); err != nil {
		return infraerrors.DatabaseError("persist_commit", err)
	}
	return nil
}

// insertEvent runs the eld_events INSERT shared by Persist and ProposeEdit.
func insertEvent(ctx context.Context, tx txHandle, event eldevent.Event) error {
	recordStatus := event.RecordStatus
	if recordStatus == 0 {
		recordStatus = eldevent.RecordStatusActive
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO eld_events
			(id, device_id, driver_id, vehicle_id, carrier_id, log_date, event_type,
			 event_sub_type, duty_status, origin, event_timestamp, recorded_at, latitude, longitude,
			 location_description, distance_since_last_km, engine_hours, odometer, annotation,
			 sequence_id, content_hash, chain_hash, client_key, record_status, edit_of_id,
			 requires_driver_review, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,NOW(),NOW())
	`, event.ID, event.DeviceID, nullIfEmpty(event.DriverID), nullIfEmpty(event.VehicleID), event.CarrierID,
		event.LogDate, string(event.EventType), nullIfEmpty(event.EventSubType), nullIfEmpty(string(event.DutyStatus)),
		string(event.Origin), event.EventTimestamp, event.RecordedAt, event.Latitude, event.Longitude,
		nullIfEmpty(event.LocationDescription), event.DistanceSinceLastKM, event.EngineHours, event.Odometer,
		nullIfEmpty(event.Annotation), event.SequenceID, event.ContentHash, event.ChainHash,
		nullIfEmpty(event.ClientKey), int(recordStatus), nullIfEmpty(event.EditOfID), event.RequiresDriverReview)
	return err
}

// ReserveSequenceIDs persists an advanced allocator state with no
// accompanying event, backing the offline block-reservation endpoint: the
// device claims a contiguous ID range up front and assigns events to it
// locally, so there is nothing to insert into eld_events yet.
func (s *Store) ReserveSequenceIDs(ctx context.Context, scope eldevent.Scope, nextState sequence.State) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sequence_id_states (device_id, log_date, last_issued_id, reserved_up_to, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (device_id, log_date) DO UPDATE
			SET last_issued_id = EXCLUDED.last_issued_id,
			    reserved_up_to = EXCLUDED.reserved_up_to,
			    updated_at = NOW()
	`, scope.DeviceID, scope.LogDate, nextState.LastIssued, nextState.ReservedUpTo)
	if err != nil {
		return infraerrors.DatabaseError("reserve_sequence_ids", err)
	}
	return nil
}

// FindByScope implements findByScope: every committed active event in a
// scope within [from, to), ordered by sequence ID. The range is a required
// parameter, not an optional filter: there is no overload that omits it.
func (s *Store) FindByScope(ctx context.Context, scope eldevent.Scope, from, to time.Time) ([]eldevent.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumnList+`
		FROM eld_events
		WHERE device_id = $1 AND log_date = $2 AND record_status = $3
		  AND event_timestamp >= $4 AND event_timestamp < $5
		ORDER BY sequence_id ASC
	`, scope.DeviceID, scope.LogDate, activeRecordStatus, from, to)
	if err != nil {
		return nil, infraerrors.DatabaseError("find_by_scope", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// FindByCarrierUpdatedAfter implements findByCarrierUpdatedAfter for sync
// server-edit delivery: every event belonging to carrierID touched since
// after, bounded above by the moment the query runs so the query always
// carries a closed timestamp range. A row
// qualifies either because it is a pending/resolved edit (record_status
// in {changed, requested, rejected}) or because a carrier-originated
// correction replaced the active row directly, so a device that only
// ever observed the original is still notified of the change.
func (s *Store) FindByCarrierUpdatedAfter(ctx context.Context, carrierID string, after time.Time) ([]eldevent.Event, error) {
	now := time.Now().UTC()
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumnList+`
		FROM eld_events
		WHERE carrier_id = $1 AND updated_at > $2 AND updated_at <= $3
		  AND (record_status = ANY($4::int[]) OR origin = $5)
		ORDER BY updated_at ASC
	`, carrierID, after, now, pqIntArray(editedRecordStatuses), string(eldevent.OriginCarrier))
	if err != nil {
		return nil, infraerrors.DatabaseError("find_by_carrier_updated_after", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ProposeEdit implements proposeEdit: a correction is landed as a new row
// linked back to the event it supersedes via edit_of_id, carrying
// record_status InactiveChangedRequested until ResolveEdit decides its
// fate. The original row is never touched by this call, preserving the
// immutable-event invariant until the edit is actually approved.
func (s *Store) ProposeEdit(ctx context.Context, edit eldevent.Event, originalID string) error {
	edit.RecordStatus = eldevent.RecordStatusInactiveChangedRequested
	edit.EditOfID = originalID

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return infraerrors.DatabaseError("propose_edit_begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertEvent(ctx, tx, edit); err != nil {
		return infraerrors.DatabaseError("propose_edit_insert", err)
	}
	if err := tx.Commit(); err != nil {
		return infraerrors.DatabaseError("propose_edit_commit", err)
	}
	return nil
}

// ResolveEdit implements resolveEdit: approving a pending correction
// retires the event it supersedes (InactiveChanged) and promotes the edit
// to Active, so exactly one row per scope-sequence stays active;
// rejecting it leaves the original untouched and marks the edit
// InactiveChangedRejected.
func (s *Store) ResolveEdit(ctx context.Context, editID string, approve bool) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return infraerrors.DatabaseError("resolve_edit_begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	var originalID string
	row := tx.QueryRowContext(ctx, `
		SELECT edit_of_id FROM eld_events WHERE id = $1 AND record_status = $2
	`, editID, int(eldevent.RecordStatusInactiveChangedRequested))
	if err := row.Scan(&originalID); err != nil {
		if isNoRows(err) {
			return infraerrors.NotFound("pending edit", editID)
		}
		return infraerrors.DatabaseError("resolve_edit_lookup", err)
	}

	if approve {
		if _, err := tx.ExecContext(ctx, `
			UPDATE eld_events SET record_status = $1, updated_at = NOW() WHERE id = $2
		`, int(eldevent.RecordStatusInactiveChanged), originalID); err != nil {
			return infraerrors.DatabaseError("resolve_edit_retire_original", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE eld_events SET record_status = $1, updated_at = NOW() WHERE id = $2
		`, int(eldevent.RecordStatusActive), editID); err != nil {
			return infraerrors.DatabaseError("resolve_edit_promote", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
			UPDATE eld_events SET record_status = $1, updated_at = NOW() WHERE id = $2
		`, int(eldevent.RecordStatusInactiveChangedRejected), editID); err != nil {
			return infraerrors.DatabaseError("resolve_edit_reject", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return infraerrors.DatabaseError("resolve_edit_commit", err)
	}
	return nil
}

// Gaps reports the outcome of detectGaps: the highest sequence ID the
// allocator has issued for a scope, and which IDs in [1, expected] have no
// corresponding committed row.
type Gaps struct {
	Expected int
	Missing  []int
}

// DetectGaps implements detectGaps: it diffs the allocator's last-issued
// ID against the sequence IDs actually present among committed active
// events in scope, surfacing any that were issued but never landed (e.g. a
// batch item that was dead-lettered rather than retried to completion).
func (s *Store) DetectGaps(ctx context.Context, scope eldevent.Scope) (Gaps, error) {
	state, err := s.SequenceState(ctx, scope)
	if err != nil {
		return Gaps{}, err
	}
	if state.LastIssued == 0 {
		return Gaps{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence_id FROM eld_events
		WHERE device_id = $1 AND log_date = $2 AND record_status = $3
		ORDER BY sequence_id ASC
	`, scope.DeviceID, scope.LogDate, activeRecordStatus)
	if err != nil {
		return Gaps{}, infraerrors.DatabaseError("detect_gaps", err)
	}
	defer rows.Close()

	present := make(map[int]bool)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return Gaps{}, infraerrors.DatabaseError("detect_gaps_scan", err)
		}
		present[id] = true
	}
	if err := rows.Err(); err != nil {
		return Gaps{}, infraerrors.DatabaseError("detect_gaps_rows", err)
	}

	gaps := Gaps{Expected: state.LastIssued}
	for id := 1; id <= state.LastIssued; id++ {
		if !present[id] {
			gaps.Missing = append(gaps.Missing, id)
		}
	}
	return gaps, nil
}

func scanEvent(row *sql.Row) (eldevent.Event, error) {
	var e eldevent.Event
	var driverID, vehicleID, eventSubType, dutyStatus, locationDescription, annotation, clientKey, editOfID sql.NullString
	var recordStatus int
	err := row.Scan(&e.ID, &e.DeviceID, &driverID, &vehicleID, &e.CarrierID, &e.LogDate, &e.EventType,
		&eventSubType, &dutyStatus, &e.Origin, &e.EventTimestamp, &e.RecordedAt, &e.Latitude, &e.Longitude,
		&locationDescription, &e.DistanceSinceLastKM, &e.EngineHours, &e.Odometer, &annotation, &e.SequenceID,
		&e.ContentHash, &e.ChainHash, &clientKey, &recordStatus, &editOfID, &e.RequiresDriverReview,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return eldevent.Event{}, err
	}
	applyNullableFields(&e, driverID, vehicleID, eventSubType, dutyStatus, locationDescription, annotation, clientKey, editOfID, recordStatus)
	return e, nil
}

func scanEvents(rows *sql.Rows) ([]eldevent.Event, error) {
	var events []eldevent.Event
	for rows.Next() {
		var e eldevent.Event
		var driverID, vehicleID, eventSubType, dutyStatus, locationDescription, annotation, clientKey, editOfID sql.NullString
		var recordStatus int
		err := rows.Scan(&e.ID, &e.DeviceID, &driverID, &vehicleID, &e.CarrierID, &e.LogDate, &e.EventType,
			&eventSubType, &dutyStatus, &e.Origin, &e.EventTimestamp, &e.RecordedAt, &e.Latitude, &e.Longitude,
			&locationDescription, &e.DistanceSinceLastKM, &e.EngineHours, &e.Odometer, &annotation, &e.SequenceID,
			&e.ContentHash, &e.ChainHash, &clientKey, &recordStatus, &editOfID, &e.RequiresDriverReview,
			&e.CreatedAt, &e.UpdatedAt)
		if err != nil {
			return nil, err
		}
		applyNullableFields(&e, driverID, vehicleID, eventSubType, dutyStatus, locationDescription, annotation, clientKey, editOfID, recordStatus)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func applyNullableFields(e *eldevent.Event, driverID, vehicleID, eventSubType, dutyStatus, locationDescription, annotation, clientKey, editOfID sql.NullString, recordStatus int) {
	e.DriverID = driverID.String
	e.VehicleID = vehicleID.String
	e.EventSubType = eventSubType.String
	e.DutyStatus = eldevent.DutyStatus(dutyStatus.String)
	e.LocationDescription = locationDescription.String
	e.Annotation = annotation.String
	e.ClientKey = clientKey.String
	e.EditOfID = editOfID.String
	e.RecordStatus = eldevent.RecordStatus(recordStatus)
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// pqIntArray formats an []int as a Postgres integer array literal for use
// with = ANY($n), rather than going through lib/pq's array adapter for a
// single call site.
func pqIntArray(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return "{" + strings.Join(parts, ",") + "}"
}
