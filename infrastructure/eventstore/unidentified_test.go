package eventstore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/eld-core/ingestion/domain/unidentified"
)

func TestUnidentifiedCreateInsertsOpenRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO unidentified_driving_records").WillReturnResult(sqlmock.NewResult(1, 1))

	store := NewUnidentifiedStore(db)
	now := time.Date(2026, 7, 31, 6, 0, 0, 0, time.UTC)
	id, err := store.Create(context.Background(), unidentified.New("dev-1", "veh-1", "073125", now, now.Add(time.Hour)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated id")
	}
}

func TestUnidentifiedListOpenReturnsOpenRecords(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	now := time.Date(2026, 7, 31, 6, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "device_id", "vehicle_id", "log_date", "started_at", "ended_at", "status", "created_at", "updated_at"}).
		AddRow("rec-1", "dev-1", "veh-1", "073125", now, now.Add(time.Hour), "OPEN", now, now)
	mock.ExpectQuery("SELECT id, device_id").WithArgs("OPEN").WillReturnRows(rows)

	store := NewUnidentifiedStore(db)
	records, err := store.ListOpen(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 || records[0].Status != unidentified.StatusOpen {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestUnidentifiedMarkExpiredFailsWhenNoRowsAffected(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE unidentified_driving_records").WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewUnidentifiedStore(db)
	err = store.MarkExpired(context.Background(), "missing", time.Now())
	if err == nil {
		t.Fatal("expected not-found error")
	}
}
