package model

import (
	"errors"
	"time"

	"github.com/clinicore/clinicore/libs/money"
)

type Patient struct {
	ID             string
	FirstName      string
	LastName       string
	Email          string
	Phone          string
	DateOfBirth    *time.Time
	Gender         string
	Address        string
	MedicalHistory string
	Allergies      string
	Medications    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Doctor struct {
	ID             string
	FirstName      string
	LastName       string
	Email          string
	Phone          string
	Specialization string
	LicenseNumber  string
	FeeCents       money.Cents
	Availability   string
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Appointment type values.
const (
	TypeConsultation = "consultation"
	TypeFollowUp     = "follow_up"
	TypeEmergency    = "emergency"
	TypeTelemedicine = "telemedicine"
)

// Appointment status values.
const (
	StatusScheduled  = "scheduled"
	StatusConfirmed  = "confirmed"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
	StatusNoShow     = "no_show"
)

type Appointment struct {
	ID              string
	PatientID       string
	DoctorID        string
	AppointmentDate time.Time
	DurationMinutes int
	Type            string
	Status          string
	Notes           string
	Symptoms        string
	Diagnosis       string
	Prescription    string
	CancelledAt     *time.Time
	CancelReason    string
	CreatedAt       time.Time
	// Denormalized display fields filled by list queries.
	PatientName string
	DoctorName  string
}

// End returns the exclusive end of the appointment interval.
func (a Appointment) End() time.Time {
	return a.AppointmentDate.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

func ValidAppointmentType(t string) bool {
	switch t {
	case TypeConsultation, TypeFollowUp, TypeEmergency, TypeTelemedicine:
		return true
	}
	return false
}

func ValidAppointmentStatus(s string) bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// TerminalStatus reports whether s is a final appointment state. Updates may
// not move an appointment out of a terminal state; the cancel operation is
// the single exception and always wins.
func TerminalStatus(s string) bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

var (
	ErrTerminalStatus  = errors.New("appointment is in a terminal status")
	ErrCancelViaUpdate = errors.New("cancellation has a dedicated operation")
)

// CheckStatusChange validates a status change requested through a plain
// update. Cancelling goes through the cancel operation, which also releases
// the doctor's slot.
func CheckStatusChange(current, next string) error {
	if next == current {
		return nil
	}
	if TerminalStatus(current) {
		return ErrTerminalStatus
	}
	if next == StatusCancelled {
		return ErrCancelViaUpdate
	}
	return nil
}

// Bill status values.
const (
	BillPending  = "pending"
	BillPaid     = "paid"
	BillFailed   = "failed"
	BillRefunded = "refunded"
)

type Bill struct {
	ID               string
	AppointmentID    string
	PatientID        string
	AmountCents      money.Cents
	TaxCents         money.Cents
	TotalCents       money.Cents
	Status           string
	DueDate          *time.Time
	PaymentMethod    string
	PaymentReference string
	PaidAt           *time.Time
	CreatedAt        time.Time
}

func ValidBillStatus(s string) bool {
	switch s {
	case BillPending, BillPaid, BillFailed, BillRefunded:
		return true
	}
	return false
}

// Telemedicine session status values.
const (
	SessionScheduled = "scheduled"
	SessionActive    = "active"
	SessionCompleted = "completed"
	SessionCancelled = "cancelled"
)

type TelemedicineSession struct {
	ID              string
	AppointmentID   string
	PatientID       string
	DoctorID        string
	RoomID          string
	Status          string
	StartedAt       *time.Time
	EndedAt         *time.Time
	DurationMinutes int
	RecordingURL    string
	Notes           string
	CreatedAt       time.Time
}

type Review struct {
	ID             string
	AppointmentID  string
	PatientID      string
	DoctorID       string
	Overall        int
	ServiceQuality int
	Communication  int
	WaitTime       int
	Cleanliness    int
	Comment        string
	Recommend      bool
	Anonymous      bool
	CreatedAt      time.Time
}

// ValidRating reports whether r is a 1-5 star value.
func ValidRating(r int) bool {
	return r >= 1 && r <= 5
}

// Permissions is the exhaustive capability set of a sub-admin. Named booleans
// keep permission checks type-checked instead of an open string-keyed map.
type Permissions struct {
	ManagePatients     bool `json:"manage_patients"`
	ManageDoctors      bool `json:"manage_doctors"`
	ManageAppointments bool `json:"manage_appointments"`
	ManageBilling      bool `json:"manage_billing"`
	ManageTelemedicine bool `json:"manage_telemedicine"`
	ManageReviews      bool `json:"manage_reviews"`
	ViewAnalytics      bool `json:"view_analytics"`
}

type SubAdmin struct {
	ID           string
	UserID       string
	FirstName    string
	LastName     string
	Email        string
	Department   string
	SubAdminType string
	Permissions  Permissions
	CreatedAt    time.Time
}
