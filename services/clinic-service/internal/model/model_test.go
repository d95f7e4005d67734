package model

import (
	"testing"
	"time"
)

func TestTerminalStatus(t *testing.T) {
	cases := []struct {
		status string
		want   bool
	}{
		{StatusScheduled, false},
		{StatusConfirmed, false},
		{StatusInProgress, false},
		{StatusCompleted, true},
		{StatusCancelled, true},
		{StatusNoShow, true},
	}
	for _, tc := range cases {
		if got := TerminalStatus(tc.status); got != tc.want {
			t.Errorf("TerminalStatus(%q) = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestAppointmentEnd(t *testing.T) {
	start := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	appt := Appointment{AppointmentDate: start, DurationMinutes: 45}
	want := start.Add(45 * time.Minute)
	if got := appt.End(); !got.Equal(want) {
		t.Fatalf("End() = %v, want %v", got, want)
	}
}

func TestCheckStatusChange(t *testing.T) {
	cases := []struct {
		current string
		next    string
		want    error
	}{
		{StatusScheduled, StatusConfirmed, nil},
		{StatusConfirmed, StatusCompleted, nil},
		{StatusCompleted, StatusCompleted, nil},
		{StatusCompleted, StatusScheduled, ErrTerminalStatus},
		{StatusCancelled, StatusConfirmed, ErrTerminalStatus},
		{StatusNoShow, StatusInProgress, ErrTerminalStatus},
		{StatusScheduled, StatusCancelled, ErrCancelViaUpdate},
		{StatusConfirmed, StatusCancelled, ErrCancelViaUpdate},
		{StatusCancelled, StatusCancelled, nil},
	}
	for _, tc := range cases {
		if got := CheckStatusChange(tc.current, tc.next); got != tc.want {
			t.Errorf("CheckStatusChange(%q, %q) = %v, want %v", tc.current, tc.next, got, tc.want)
		}
	}
}

func TestValidRating(t *testing.T) {
	for _, r := range []int{1, 3, 5} {
		if !ValidRating(r) {
			t.Errorf("ValidRating(%d) = false, want true", r)
		}
	}
	for _, r := range []int{0, 6, -1} {
		if ValidRating(r) {
			t.Errorf("ValidRating(%d) = true, want false", r)
		}
	}
}

func TestValidAppointmentType(t *testing.T) {
	for _, typ := range []string{TypeConsultation, TypeFollowUp, TypeEmergency, TypeTelemedicine} {
		if !ValidAppointmentType(typ) {
			t.Errorf("ValidAppointmentType(%q) = false, want true", typ)
		}
	}
	if ValidAppointmentType("walk_in") {
		t.Error("ValidAppointmentType(\"walk_in\") = true, want false")
	}
}
