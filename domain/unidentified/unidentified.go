// Package unidentified implements the supplemental unidentified-driving
// record workflow: automatic driving events recorded against no
// authenticated driver are held open for carrier review and must be
// claimed by a driver or formally rejected within an 8-day window, per
// 49 CFR Part 395 Appendix A's unidentified-driver record requirements.
package unidentified

import (
	"fmt"
	"time"
)

// Status is the review state of an unidentified driving record.
type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusClaimed  Status = "CLAIMED"
	StatusRejected Status = "REJECTED"
	StatusExpired  Status = "EXPIRED"
)

// DefaultMaxAge is the FMCSA-mandated window during which an unidentified
// record may still be claimed by a driver before it ages out.
const DefaultMaxAge = 8 * 24 * time.Hour

// Record is a block of unidentified driving time awaiting carrier
// disposition.
type Record struct {
	ID          string
	DeviceID    string
	VehicleID   string
	LogDate     string
	StartedAt   time.Time
	EndedAt     time.Time
	Status      Status
	ClaimedBy   string
	ClaimedAt   *time.Time
	RejectedAt  *time.Time
	ExpiredAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// New opens an unidentified driving record for a (deviceID, logDate) block
// of automatic driving time with no attributed driver.
func New(deviceID, vehicleID, logDate string, startedAt, endedAt time.Time) Record {
	now := time.Now().UTC()
	return Record{
		DeviceID:  deviceID,
		VehicleID: vehicleID,
		LogDate:   logDate,
		StartedAt: startedAt,
		EndedAt:   endedAt,
		Status:    StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Claim attributes the record to a driver, typically following that
// driver's review of their vehicle's unidentified-driving history.
func (r Record) Claim(driverID string) (Record, error) {
	if r.Status != StatusOpen {
		return r, fmt.Errorf("cannot claim record in status %s", r.Status)
	}
	now := time.Now().UTC()
	r.Status = StatusClaimed
	r.ClaimedBy = driverID
	r.ClaimedAt = &now
	r.UpdatedAt = now
	return r, nil
}

// Reject marks the record as reviewed and confirmed to belong to no known
// driver, closing it without attribution.
func (r Record) Reject() (Record, error) {
	if r.Status != StatusOpen {
		return r, fmt.Errorf("cannot reject record in status %s", r.Status)
	}
	now := time.Now().UTC()
	r.Status = StatusRejected
	r.RejectedAt = &now
	r.UpdatedAt = now
	return r, nil
}

// Expire marks an unclaimed record as aged out of the claim window. The
// caller is expected to have already checked IsExpirable.
func (r Record) Expire() (Record, error) {
	if r.Status != StatusOpen {
		return r, fmt.Errorf("cannot expire record in status %s", r.Status)
	}
	now := time.Now().UTC()
	r.Status = StatusExpired
	r.ExpiredAt = &now
	r.UpdatedAt = now
	return r, nil
}

// IsExpirable reports whether an open record has aged past maxAge as of
// now, making it eligible for the scheduler's expiry sweep.
func (r Record) IsExpirable(now time.Time, maxAge time.Duration) bool {
	return r.Status == StatusOpen && now.Sub(r.CreatedAt) > maxAge
}
