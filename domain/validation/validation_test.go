package validation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eld-core/ingestion/domain/eldevent"
)

func validEvent() eldevent.Event {
	return eldevent.Event{
		DeviceID:       "dev-1",
		CarrierID:      "carrier-1",
		DriverID:       "driver-1",
		VehicleID:      "veh-1",
		LogDate:        "073125",
		EventTimestamp: time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC),
		EventType:      eldevent.EventTypeDutyStatus,
		DutyStatus:     eldevent.DutyStatusDriving,
		Origin:         eldevent.OriginAutomatic,
	}
}

func TestL1AcceptsValidEvent(t *testing.T) {
	if issues := L1(validEvent()); len(issues) != 0 {
		t.Fatalf("expected no issues, got %+v", issues)
	}
}

func TestL1RejectsBadLogDate(t *testing.T) {
	e := validEvent()
	e.LogDate = "2026-07-31"
	issues := L1(e)
	if len(issues) == 0 {
		t.Fatal("expected logDate issue")
	}
}

func TestL1RejectsOutOfRangeCoordinates(t *testing.T) {
	e := validEvent()
	lat := 95.0
	e.Latitude = &lat
	issues := L1(e)
	if len(issues) == 0 {
		t.Fatal("expected latitude issue")
	}
}

func TestL2RequiresDutyStatusCode(t *testing.T) {
	e := validEvent()
	e.DutyStatus = ""
	issues := L2(e, time.Now())
	if len(issues) == 0 {
		t.Fatal("expected dutyStatus issue")
	}
}

func TestL2RequiresDriverIDForLoginLogout(t *testing.T) {
	e := validEvent()
	e.EventType = eldevent.EventTypeLoginLogout
	e.DriverID = ""
	issues := L2(e, time.Now())
	if len(issues) == 0 {
		t.Fatal("expected driverId issue")
	}
}

func TestL2CertificationAcceptsWithinWindow(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	e := validEvent()
	e.EventType = eldevent.EventTypeCertification
	e.LogDate = "072026" // 11 days before 073126

	issues := L2(e, now)
	if len(issues) != 0 {
		t.Fatalf("expected no issues for a date inside the certification window, got %+v", issues)
	}
}

func TestL2CertificationRejectsFutureLogDate(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	e := validEvent()
	e.EventType = eldevent.EventTypeCertification
	e.LogDate = "080126"

	issues := L2(e, now)
	if len(issues) == 0 {
		t.Fatal("expected logDate issue for a future certified date")
	}
}

func TestL2CertificationRejectsBeyondThirteenDays(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	e := validEvent()
	e.EventType = eldevent.EventTypeCertification
	e.LogDate = "071726" // 14 days before 073126

	issues := L2(e, now)
	if len(issues) == 0 {
		t.Fatal("expected logDate issue for a certified date outside the 13-day window")
	}
}

func TestCheckChainOrderingRejectsTimestampBeforePriorBeyondTolerance(t *testing.T) {
	e := validEvent()
	prior := &PriorEvent{EventTimestamp: e.EventTimestamp.Add(time.Hour)}
	issues := CheckChainOrdering(e, prior, time.Minute)
	if len(issues) == 0 {
		t.Fatal("expected eventTimestamp issue")
	}
}

func TestCheckChainOrderingToleratesSmallClockSkew(t *testing.T) {
	e := validEvent()
	prior := &PriorEvent{EventTimestamp: e.EventTimestamp.Add(30 * time.Second)}
	issues := CheckChainOrdering(e, prior, time.Minute)
	if len(issues) != 0 {
		t.Fatalf("expected no issues, got %+v", issues)
	}
}

func TestCheckChainOrderingSkipsWithoutPrior(t *testing.T) {
	if issues := CheckChainOrdering(validEvent(), nil, time.Minute); len(issues) != 0 {
		t.Fatalf("expected no issues without a prior event, got %+v", issues)
	}
}

// fakeDirectory is a DirectoryLookup test double.
type fakeDirectory struct {
	driver  DriverStatus
	vehicle VehicleStatus
	device  DeviceStatus
	err     error
}

func (f fakeDirectory) Driver(ctx context.Context, driverID string) (DriverStatus, error) {
	return f.driver, f.err
}

func (f fakeDirectory) Vehicle(ctx context.Context, vehicleID string) (VehicleStatus, error) {
	return f.vehicle, f.err
}

func (f fakeDirectory) Device(ctx context.Context, deviceID string) (DeviceStatus, error) {
	return f.device, f.err
}

func TestL3NoOpWithoutLookup(t *testing.T) {
	issues, err := L3(context.Background(), validEvent(), nil)
	if err != nil || len(issues) != 0 {
		t.Fatalf("expected no-op, got %+v %v", issues, err)
	}
}

func TestL3AcceptsKnownGoodDirectory(t *testing.T) {
	lookup := fakeDirectory{
		driver:  DriverStatus{Exists: true, CarrierID: "carrier-1"},
		vehicle: VehicleStatus{Exists: true, CarrierID: "carrier-1"},
		device:  DeviceStatus{Exists: true, CarrierID: "carrier-1", Commissioned: true},
	}
	issues, err := L3(context.Background(), validEvent(), lookup)
	if err != nil || len(issues) != 0 {
		t.Fatalf("expected no issues, got %+v %v", issues, err)
	}
}

func TestL3RejectsSuspendedDriver(t *testing.T) {
	lookup := fakeDirectory{
		driver:  DriverStatus{Exists: true, CarrierID: "carrier-1", Suspended: true},
		vehicle: VehicleStatus{Exists: true, CarrierID: "carrier-1"},
		device:  DeviceStatus{Exists: true, CarrierID: "carrier-1", Commissioned: true},
	}
	issues, err := L3(context.Background(), validEvent(), lookup)
	if err != nil || len(issues) == 0 {
		t.Fatalf("expected a suspended-driver issue, got %+v %v", issues, err)
	}
}

func TestL3RejectsUncommissionedDevice(t *testing.T) {
	lookup := fakeDirectory{
		driver:  DriverStatus{Exists: true, CarrierID: "carrier-1"},
		vehicle: VehicleStatus{Exists: true, CarrierID: "carrier-1"},
		device:  DeviceStatus{Exists: true, CarrierID: "carrier-1", Commissioned: false},
	}
	issues, err := L3(context.Background(), validEvent(), lookup)
	if err != nil || len(issues) == 0 {
		t.Fatalf("expected an uncommissioned-device issue, got %+v %v", issues, err)
	}
}

func TestL3FailsOpenOnLookupError(t *testing.T) {
	lookup := fakeDirectory{err: errors.New("directory unavailable")}
	issues, err := L3(context.Background(), validEvent(), lookup)
	if err == nil {
		t.Fatal("expected the lookup error to propagate for fail-open handling")
	}
	if len(issues) != 0 {
		t.Fatalf("expected no issues to be reported alongside a lookup error, got %+v", issues)
	}
}

func TestPeekShapeExtractsRoutingFields(t *testing.T) {
	raw := []byte(`{"deviceId":"dev-1","logDate":"073125","eventType":"DUTY_STATUS"}`)
	deviceID, logDate, eventType, ok := PeekShape(raw)
	if !ok || deviceID != "dev-1" || logDate != "073125" || eventType != "DUTY_STATUS" {
		t.Fatalf("unexpected shape: %s %s %s %v", deviceID, logDate, eventType, ok)
	}
}

func TestPeekShapeRejectsNonObject(t *testing.T) {
	_, _, _, ok := PeekShape([]byte(`[1,2,3]`))
	if ok {
		t.Fatal("expected non-object payload to be rejected")
	}
}
