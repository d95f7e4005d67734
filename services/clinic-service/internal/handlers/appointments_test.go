package handlers

import (
	"net/url"
	"testing"
	"time"
)

func TestAppointmentFilterFromQuery(t *testing.T) {
	q := url.Values{}
	q.Set("patient_id", "pat-1")
	q.Set("doctor_id", "doc-1")
	q.Set("status", "scheduled")
	q.Set("search", "jane smith")
	q.Set("from", "2026-09-01T00:00:00Z")
	q.Set("limit", "25")

	filter, err := appointmentFilterFromQuery(q)
	if err != nil {
		t.Fatalf("appointmentFilterFromQuery failed: %v", err)
	}
	if filter.PatientID != "pat-1" || filter.DoctorID != "doc-1" || filter.Status != "scheduled" {
		t.Fatalf("unexpected filter ids: %+v", filter)
	}
	if filter.Search != "jane smith" {
		t.Fatalf("search = %q, want %q", filter.Search, "jane smith")
	}
	if filter.Limit != 25 {
		t.Fatalf("limit = %d, want 25", filter.Limit)
	}
	want := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	if filter.From == nil || !filter.From.Equal(want) {
		t.Fatalf("from = %v, want %v", filter.From, want)
	}
	if filter.To != nil {
		t.Fatalf("to = %v, want nil", filter.To)
	}
}

func TestAppointmentFilterFromQueryBadDates(t *testing.T) {
	for _, key := range []string{"from", "to"} {
		q := url.Values{}
		q.Set(key, "not-a-time")
		if _, err := appointmentFilterFromQuery(q); err == nil {
			t.Errorf("expected error for invalid %s", key)
		}
	}
}
