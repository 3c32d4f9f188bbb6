package eventstore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/eld-core/ingestion/domain/logperiod"
)

func TestLogPeriodGetOrCreateReturnsExisting(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "driver_id", "log_date", "status", "certified_at", "recertified_at", "rejected_at", "created_at", "updated_at"}).
		AddRow("lp-1", "driver-1", "073125", "OPEN", nil, nil, nil, now, now)
	mock.ExpectQuery("SELECT id, driver_id").WithArgs("driver-1", "073125").WillReturnRows(rows)

	store := NewLogPeriodStore(db)
	p, err := store.GetOrCreate(context.Background(), logperiod.Key{DriverID: "driver-1", LogDate: "073125"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != "lp-1" || p.Status != logperiod.StatusOpen {
		t.Fatalf("unexpected log period: %+v", p)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLogPeriodGetOrCreateInsertsWhenMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT id, driver_id").WithArgs("driver-2", "073125").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO log_periods").WillReturnResult(sqlmock.NewResult(1, 1))

	store := NewLogPeriodStore(db)
	p, err := store.GetOrCreate(context.Background(), logperiod.Key{DriverID: "driver-2", LogDate: "073125"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.DriverID != "driver-2" || p.Status != logperiod.StatusOpen {
		t.Fatalf("unexpected log period: %+v", p)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLogPeriodSaveUpdatesCertificationFields(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE log_periods").WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewLogPeriodStore(db)
	p := logperiod.New("driver-1", "073125")
	p.ID = "lp-1"
	certified, err := p.Certify()
	if err != nil {
		t.Fatalf("certify: %v", err)
	}
	if err := store.Save(context.Background(), certified); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
