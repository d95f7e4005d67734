package main

import (
	"strings"
	"testing"
)

func TestReminderTextAppointment(t *testing.T) {
	subject, body := reminderText(reminderPayload{
		SubjectType: "appointment",
		RemindAt:    "2026-03-01T09:00:00Z",
		TemplateData: map[string]any{
			"patient_name":     "Jane Doe",
			"doctor_name":      "Dr. Smith",
			"appointment_date": "2026-03-01T10:00:00Z",
		},
	})
	if subject != "Appointment reminder" {
		t.Fatalf("subject = %q", subject)
	}
	if !strings.Contains(body, "Dear Jane Doe") || !strings.Contains(body, "Dr. Smith") {
		t.Fatalf("body = %q", body)
	}
	if !strings.Contains(body, "2026-03-01T10:00:00Z") {
		t.Fatalf("body should use appointment_date, got %q", body)
	}
}

func TestReminderTextBill(t *testing.T) {
	subject, body := reminderText(reminderPayload{
		SubjectType: "bill",
		RemindAt:    "2026-03-05T00:00:00Z",
		TemplateData: map[string]any{
			"patient_name": "Jane Doe",
			"due_date":     "2026-03-05",
		},
	})
	if subject != "Payment reminder" {
		t.Fatalf("subject = %q", subject)
	}
	if !strings.Contains(body, "due on 2026-03-05") {
		t.Fatalf("body = %q", body)
	}
}
