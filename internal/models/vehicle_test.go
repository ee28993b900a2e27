package models

import (
	"testing"
	"time"
)

func TestVehicleExpiringDocuments(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	v := &Vehicle{
		ID:                  "v1",
		RCExpiryDate:        NewTimestamp(now.AddDate(0, 0, 20)),
		PollutionExpiryDate: NewTimestamp(now.AddDate(0, 0, -3)),
		InsuranceExpiryDate: NewTimestamp(now.AddDate(1, 0, 0)),
	}

	docs := v.ExpiringDocuments(now, 30*24*time.Hour)
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2: %+v", len(docs), docs)
	}
	if docs[0].Document != "pollution" || !docs[0].Expired {
		t.Errorf("first = %+v, want expired pollution", docs[0])
	}
	if docs[1].Document != "registration" || docs[1].Expired {
		t.Errorf("second = %+v, want upcoming registration", docs[1])
	}
	if docs[1].VehicleID != "v1" {
		t.Errorf("vehicle id = %q", docs[1].VehicleID)
	}
}

func TestVehicleExpiringDocumentsIgnoresUnset(t *testing.T) {
	v := &Vehicle{}
	if docs := v.ExpiringDocuments(time.Now(), 365*24*time.Hour); len(docs) != 0 {
		t.Errorf("expected no documents, got %+v", docs)
	}
}

func TestVehicleIsAvailable(t *testing.T) {
	if !(&Vehicle{Status: VehicleAvailable}).IsAvailable() {
		t.Error("available vehicle reported unavailable")
	}
	if (&Vehicle{Status: VehicleInMaintenance}).IsAvailable() {
		t.Error("vehicle in maintenance reported available")
	}
}

func TestMaintenanceTotals(t *testing.T) {
	m := &MaintenanceRequest{
		FixedServiceCost: DefaultFixedServiceCost,
		ReplacedParts: []ReplacedPart{
			{Name: "Brake Pad", Price: 19.99},
			{Name: "Oil Filter", Price: 0.1},
			{Name: "Wiper", Price: 0.2},
		},
	}
	if got := m.PartsTotal(); got != 20.29 {
		t.Errorf("PartsTotal = %v", got)
	}
	if got := m.ComputeTotal(); got != 70.29 {
		t.Errorf("ComputeTotal = %v", got)
	}
	if RoundCents(12.3456) != 12.35 {
		t.Errorf("RoundCents = %v", RoundCents(12.3456))
	}
	if (&MaintenanceRequest{Status: MaintenanceRejected}).IsOpen() {
		t.Error("rejected request is closed")
	}
}
