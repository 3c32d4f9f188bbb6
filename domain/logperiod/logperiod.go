// Package logperiod tracks the certification lifecycle of a driver's daily
// record of duty status: open while events are still being recorded,
// closed at the end of the 24-hour period, then certified, recertified, or
// rejected by the driver.
package logperiod

import (
	"fmt"
	"time"
)

// Status is the certification state of a single driver-day log period.
type Status string

const (
	StatusOpen         Status = "OPEN"
	StatusClosed       Status = "CLOSED"
	StatusCertified    Status = "CERTIFIED"
	StatusRecertified  Status = "RECERTIFIED"
	StatusRejected     Status = "REJECTED"
)

// LogPeriod is the per-(driverID, logDate) certification record.
type LogPeriod struct {
	ID            string
	DriverID      string
	LogDate       string // MMDDYY, home-terminal timezone
	Status        Status
	CertifiedAt   *time.Time
	RecertifiedAt *time.Time
	RejectedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Key identifies a log period.
type Key struct {
	DriverID string
	LogDate  string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.DriverID, k.LogDate)
}

func (p LogPeriod) Key() Key {
	return Key{DriverID: p.DriverID, LogDate: p.LogDate}
}

// New builds a fresh, open log period for a driver-day.
func New(driverID, logDate string) LogPeriod {
	now := time.Now().UTC()
	return LogPeriod{
		DriverID:  driverID,
		LogDate:   logDate,
		Status:    StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Close transitions an open log period to CLOSED at the end of its
// 24-hour window, making it eligible for driver certification.
func (p LogPeriod) Close() (LogPeriod, error) {
	if p.Status != StatusOpen {
		return p, fmt.Errorf("cannot close log period in status %s", p.Status)
	}
	p.Status = StatusClosed
	p.UpdatedAt = time.Now().UTC()
	return p, nil
}

// Certify records the driver's initial certification of a closed log
// period. A log period may also be certified directly from OPEN, since
// 49 CFR 395.15 permits same-day certification before the period closes.
func (p LogPeriod) Certify() (LogPeriod, error) {
	if p.Status != StatusOpen && p.Status != StatusClosed {
		return p, fmt.Errorf("cannot certify log period in status %s", p.Status)
	}
	now := time.Now().UTC()
	p.Status = StatusCertified
	p.CertifiedAt = &now
	p.UpdatedAt = now
	return p, nil
}

// Recertify re-certifies a log period after it was edited following an
// initial certification.
func (p LogPeriod) Recertify() (LogPeriod, error) {
	if p.Status != StatusCertified && p.Status != StatusRecertified {
		return p, fmt.Errorf("cannot recertify log period in status %s", p.Status)
	}
	now := time.Now().UTC()
	p.Status = StatusRecertified
	p.RecertifiedAt = &now
	p.UpdatedAt = now
	return p, nil
}

// Reject records a driver's rejection of a carrier-proposed edit to a
// certified log period, moving it to REJECTED. No transition leads out of
// REJECTED: Certify and Recertify both refuse a rejected period.
func (p LogPeriod) Reject() (LogPeriod, error) {
	if p.Status != StatusCertified && p.Status != StatusRecertified {
		return p, fmt.Errorf("cannot reject log period in status %s", p.Status)
	}
	now := time.Now().UTC()
	p.Status = StatusRejected
	p.RejectedAt = &now
	p.UpdatedAt = now
	return p, nil
}
