package handlers

import (
	"testing"
	"time"

	"github.com/clinicore/clinicore/libs/money"
	"github.com/clinicore/clinicore/services/clinic-service/internal/model"
)

func TestBillFromCreateRequestComputesTotal(t *testing.T) {
	amount, err := money.Parse("100.00")
	if err != nil {
		t.Fatalf("Parse amount: %v", err)
	}
	tax, err := money.Parse("18.00")
	if err != nil {
		t.Fatalf("Parse tax: %v", err)
	}

	bill, err := billFromCreateRequest(createBillRequest{
		AppointmentID: "appt-1",
		Amount:        amount,
		Tax:           tax,
		DueDate:       "2026-09-30",
	}, "pat-1")
	if err != nil {
		t.Fatalf("billFromCreateRequest failed: %v", err)
	}

	want, _ := money.Parse("118.00")
	if bill.TotalCents != want {
		t.Fatalf("total = %d cents, want %d", bill.TotalCents, want)
	}
	if bill.PatientID != "pat-1" {
		t.Fatalf("patient_id = %q, want appointment's patient", bill.PatientID)
	}
	if bill.Status != model.BillPending {
		t.Fatalf("status = %q, want %q", bill.Status, model.BillPending)
	}
	if bill.DueDate == nil || !bill.DueDate.Equal(time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("due_date = %v, want 2026-09-30", bill.DueDate)
	}
}

func TestBillFromCreateRequestValidation(t *testing.T) {
	cases := []struct {
		name string
		req  createBillRequest
		want error
	}{
		{"missing appointment", createBillRequest{}, errMissingAppointment},
		{"negative amount", createBillRequest{AppointmentID: "appt-1", Amount: -1}, errNegativeAmounts},
		{"negative tax", createBillRequest{AppointmentID: "appt-1", Tax: -1}, errNegativeAmounts},
		{"patient mismatch", createBillRequest{AppointmentID: "appt-1", PatientID: "pat-2"}, errPatientMismatch},
		{"bad due date", createBillRequest{AppointmentID: "appt-1", DueDate: "30/09/2026"}, errBadDueDate},
	}
	for _, tc := range cases {
		if _, err := billFromCreateRequest(tc.req, "pat-1"); err != tc.want {
			t.Errorf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestFirstPaidTransition(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name string
		bill model.Bill
		next string
		want bool
	}{
		{"pending to paid", model.Bill{Status: model.BillPending}, model.BillPaid, true},
		{"failed to paid", model.Bill{Status: model.BillFailed}, model.BillPaid, true},
		{"already paid", model.Bill{Status: model.BillPaid, PaidAt: &now}, model.BillPaid, false},
		{"paid before, refunded since", model.Bill{Status: model.BillRefunded, PaidAt: &now}, model.BillPaid, false},
		{"pending to failed", model.Bill{Status: model.BillPending}, model.BillFailed, false},
		{"failed back to pending", model.Bill{Status: model.BillFailed}, model.BillPending, false},
	}
	for _, tc := range cases {
		if got := firstPaidTransition(tc.bill, tc.next); got != tc.want {
			t.Errorf("%s: firstPaidTransition = %v, want %v", tc.name, got, tc.want)
		}
	}
}
