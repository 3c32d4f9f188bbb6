// Package validation implements the three-layer validation pipeline every
// inbound event passes through before it is allocated a sequence ID and
// chained into the event log: L1 shape/range checks, L2 cross-field
// consistency checks, and L3 cross-reference checks against the driver,
// vehicle, and device directories. The check against the prior event in
// the same (deviceID, logDate) scope is CheckChainOrdering, which is not
// one of the three layers.
package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/eld-core/ingestion/domain/eldevent"
)

// Issue is a single validation failure, carrying the field it concerns so
// callers can build a structured error response.
type Issue struct {
	Field  string
	Reason string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Field, i.Reason)
}

// PeekShape extracts the minimal set of fields needed to route a raw
// device payload before it is fully unmarshaled, using gjson so malformed
// or partial payloads can be rejected cheaply ahead of strict decoding.
func PeekShape(raw []byte) (deviceID, logDate, eventType string, ok bool) {
	result := gjson.ParseBytes(raw)
	if !result.Exists() || !result.IsObject() {
		return "", "", "", false
	}
	deviceID = result.Get("deviceId").String()
	logDate = result.Get("logDate").String()
	eventType = result.Get("eventType").String()
	return deviceID, logDate, eventType, deviceID != "" && logDate != "" && eventType != ""
}

// L1 performs shape and range validation: required fields present,
// enumerations within their known value sets, numeric fields within their
// physical bounds. L1 never requires access to the event store.
func L1(e eldevent.Event) []Issue {
	var issues []Issue

	if e.DeviceID == "" {
		issues = append(issues, Issue{"deviceId", "required"})
	}
	if e.CarrierID == "" {
		issues = append(issues, Issue{"carrierId", "required"})
	}
	if !validLogDate(e.LogDate) {
		issues = append(issues, Issue{"logDate", "must be MMDDYY"})
	}
	if e.EventTimestamp.IsZero() {
		issues = append(issues, Issue{"eventTimestamp", "required"})
	}
	if !validEventType(e.EventType) {
		issues = append(issues, Issue{"eventType", "unknown event type"})
	}
	if e.EventType == eldevent.EventTypeDutyStatus && !validDutyStatus(e.DutyStatus) {
		issues = append(issues, Issue{"dutyStatus", "unknown duty status"})
	}
	if !validOrigin(e.Origin) {
		issues = append(issues, Issue{"origin", "unknown origin"})
	}
	if e.Latitude != nil && (*e.Latitude < -90 || *e.Latitude > 90) {
		issues = append(issues, Issue{"latitude", "out of range"})
	}
	if e.Longitude != nil && (*e.Longitude < -180 || *e.Longitude > 180) {
		issues = append(issues, Issue{"longitude", "out of range"})
	}
	if e.EngineHours != nil && *e.EngineHours < 0 {
		issues = append(issues, Issue{"engineHours", "must be non-negative"})
	}
	if e.Odometer != nil && *e.Odometer < 0 {
		issues = append(issues, Issue{"odometer", "must be non-negative"})
	}

	return issues
}

// L2 performs FMCSA business-rule checks dispatched by event type: a
// duty-status change carries a duty-status code, a certification event
// certifies a log date within the 14-day window FMCSA allows (today and
// the preceding 13 days), and a login/logout event carries the driver's
// ELD account id (the event's driverId). Engine-power-on/off pairing is
// checked asynchronously when a scope closes, not here.
func L2(e eldevent.Event, now time.Time) []Issue {
	var issues []Issue

	switch e.EventType {
	case eldevent.EventTypeDutyStatus:
		if e.DutyStatus == "" {
			issues = append(issues, Issue{"dutyStatus", "required for a duty-status change event"})
		}
	case eldevent.EventTypeCertification:
		certifiedDate, err := time.Parse("010206", e.LogDate)
		if err != nil {
			issues = append(issues, Issue{"logDate", "must be a valid MMDDYY date to certify"})
			break
		}
		today := now.UTC().Truncate(24 * time.Hour)
		switch {
		case certifiedDate.After(today):
			issues = append(issues, Issue{"logDate", "certified log date cannot be in the future"})
		case certifiedDate.Before(today.AddDate(0, 0, -13)):
			issues = append(issues, Issue{"logDate", "certified log date is outside the 13-day certification window"})
		}
	case eldevent.EventTypeLoginLogout:
		if e.DriverID == "" {
			issues = append(issues, Issue{"driverId", "required for a login/logout event"})
		}
	}

	return issues
}

// PriorEvent is the minimal view of the most recently accepted event in a
// scope that the chain-ordering check needs.
type PriorEvent struct {
	EventTimestamp time.Time
	DutyStatus     eldevent.DutyStatus
}

// CheckChainOrdering enforces the hash chain's temporal invariant: a new
// event's timestamp must not precede the prior event accepted into the
// same (deviceID, logDate) scope by more than the clock-skew tolerance.
// This is a chain-linking concern the controller applies directly; it is
// not one of the three numbered validation layers.
func CheckChainOrdering(e eldevent.Event, prior *PriorEvent, clockSkewTolerance time.Duration) []Issue {
	var issues []Issue
	if prior == nil {
		return issues
	}

	if e.EventTimestamp.Before(prior.EventTimestamp.Add(-clockSkewTolerance)) {
		issues = append(issues, Issue{"eventTimestamp", "precedes prior event beyond clock-skew tolerance"})
	}

	return issues
}

// DriverStatus, VehicleStatus and DeviceStatus are the minimal facts L3
// cross-references against the driver, vehicle, and device directories.
type DriverStatus struct {
	Exists    bool
	CarrierID string
	Suspended bool
}

type VehicleStatus struct {
	Exists    bool
	CarrierID string
}

type DeviceStatus struct {
	Exists       bool
	CarrierID    string
	Commissioned bool
}

// DirectoryLookup is the external collaborator L3 cross-references
// against: driver, vehicle, and device CRUD are out of scope for this
// core (§1) and owned elsewhere, so L3 only ever calls through this
// interface. A nil DirectoryLookup makes L3 a no-op.
type DirectoryLookup interface {
	Driver(ctx context.Context, driverID string) (DriverStatus, error)
	Vehicle(ctx context.Context, vehicleID string) (VehicleStatus, error)
	Device(ctx context.Context, deviceID string) (DeviceStatus, error)
}

// L3 performs cross-reference existence checks: the driver exists,
// belongs to the event's carrier, and is not suspended; the vehicle
// exists and is owned by the carrier; the device exists, is
// commissioned, and belongs to the carrier. L3 is fail-open: a lookup
// error is returned for the caller to log, with no issues reported for
// the field that could not be checked, since losing an event to a
// directory-service outage is worse than accepting one L3 could not
// fully verify.
func L3(ctx context.Context, e eldevent.Event, lookup DirectoryLookup) ([]Issue, error) {
	if lookup == nil {
		return nil, nil
	}

	var issues []Issue
	var lookupErr error

	if e.DriverID != "" {
		driver, err := lookup.Driver(ctx, e.DriverID)
		switch {
		case err != nil:
			lookupErr = err
		case !driver.Exists:
			issues = append(issues, Issue{"driverId", "driver does not exist"})
		case driver.CarrierID != e.CarrierID:
			issues = append(issues, Issue{"driverId", "driver does not belong to carrier"})
		case driver.Suspended:
			issues = append(issues, Issue{"driverId", "driver is suspended"})
		}
	}

	if e.VehicleID != "" {
		vehicle, err := lookup.Vehicle(ctx, e.VehicleID)
		switch {
		case err != nil:
			if lookupErr == nil {
				lookupErr = err
			}
		case !vehicle.Exists:
			issues = append(issues, Issue{"vehicleId", "vehicle does not exist"})
		case vehicle.CarrierID != e.CarrierID:
			issues = append(issues, Issue{"vehicleId", "vehicle is not owned by carrier"})
		}
	}

	if e.DeviceID != "" {
		device, err := lookup.Device(ctx, e.DeviceID)
		switch {
		case err != nil:
			if lookupErr == nil {
				lookupErr = err
			}
		case !device.Exists:
			issues = append(issues, Issue{"deviceId", "device does not exist"})
		case !device.Commissioned:
			issues = append(issues, Issue{"deviceId", "device is not commissioned"})
		case device.CarrierID != e.CarrierID:
			issues = append(issues, Issue{"deviceId", "device does not belong to carrier"})
		}
	}

	if lookupErr != nil {
		return nil, lookupErr
	}
	return issues, nil
}

func validLogDate(logDate string) bool {
	if len(logDate) != 6 {
		return false
	}
	_, err := time.Parse("010206", logDate)
	return err == nil
}

func validEventType(t eldevent.EventType) bool {
	switch t {
	case eldevent.EventTypeDutyStatus, eldevent.EventTypeIntermediateLog, eldevent.EventTypeCertification,
		eldevent.EventTypeLoginLogout, eldevent.EventTypeEngineState, eldevent.EventTypeMalfunction,
		eldevent.EventTypeDiagnostic, eldevent.EventTypeAnnotation, eldevent.EventTypeUnidentifiedDrv,
		eldevent.EventTypeLocationOverride:
		return true
	default:
		return false
	}
}

func validDutyStatus(s eldevent.DutyStatus) bool {
	switch s {
	case eldevent.DutyStatusOffDuty, eldevent.DutyStatusSleeperBerth, eldevent.DutyStatusDriving,
		eldevent.DutyStatusOnDutyNotDrive, eldevent.DutyStatusYardMoves, eldevent.DutyStatusPersonalConv:
		return true
	default:
		return false
	}
}

func validOrigin(o eldevent.Origin) bool {
	switch o {
	case eldevent.OriginAutomatic, eldevent.OriginDriver, eldevent.OriginCarrier, eldevent.OriginUnidentified:
		return true
	default:
		return false
	}
}
