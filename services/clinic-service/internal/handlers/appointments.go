package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/clinicore/clinicore/libs/outbox"
	"github.com/clinicore/clinicore/services/clinic-service/internal/model"
	"github.com/clinicore/clinicore/services/clinic-service/internal/storage"
)

type AppointmentHandler struct {
	repo     *storage.AppointmentRepository
	patients *storage.PatientRepository
	doctors  *storage.DoctorRepository
	outbox   *outbox.Repository
	access   *AccessChecker
	logger   *slog.Logger
	// Reminder lead times before the appointment start.
	reminderOffsets []time.Duration
}

func NewAppointmentHandler(repo *storage.AppointmentRepository, patients *storage.PatientRepository, doctors *storage.DoctorRepository, outboxRepo *outbox.Repository, access *AccessChecker, logger *slog.Logger, reminderOffsets []time.Duration) *AppointmentHandler {
	return &AppointmentHandler{
		repo:            repo,
		patients:        patients,
		doctors:         doctors,
		outbox:          outboxRepo,
		access:          access,
		logger:          logger,
		reminderOffsets: reminderOffsets,
	}
}

type createAppointmentRequest struct {
	PatientID       string `json:"patient_id"`
	DoctorID        string `json:"doctor_id"`
	AppointmentDate string `json:"appointment_date"`
	DurationMinutes int    `json:"duration_minutes"`
	Type            string `json:"type"`
	Status          string `json:"status,omitempty"`
	Notes           string `json:"notes,omitempty"`
	Symptoms        string `json:"symptoms,omitempty"`
}

type updateAppointmentRequest struct {
	AppointmentDate *string `json:"appointment_date,omitempty"`
	DurationMinutes *int    `json:"duration_minutes,omitempty"`
	Type            *string `json:"type,omitempty"`
	Status          *string `json:"status,omitempty"`
	Notes           *string `json:"notes,omitempty"`
	Symptoms        *string `json:"symptoms,omitempty"`
	Diagnosis       *string `json:"diagnosis,omitempty"`
	Prescription    *string `json:"prescription,omitempty"`
}

type cancelAppointmentRequest struct {
	Reason string `json:"reason"`
}

type appointmentResponse struct {
	ID              string `json:"id"`
	PatientID       string `json:"patient_id"`
	DoctorID        string `json:"doctor_id"`
	PatientName     string `json:"patient_name,omitempty"`
	DoctorName      string `json:"doctor_name,omitempty"`
	AppointmentDate string `json:"appointment_date"`
	DurationMinutes int    `json:"duration_minutes"`
	Type            string `json:"type"`
	Status          string `json:"status"`
	Notes           string `json:"notes,omitempty"`
	Symptoms        string `json:"symptoms,omitempty"`
	Diagnosis       string `json:"diagnosis,omitempty"`
	Prescription    string `json:"prescription,omitempty"`
	CancelledAt     string `json:"cancelled_at,omitempty"`
	CancelReason    string `json:"cancellation_reason,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func appointmentToResponse(a model.Appointment) appointmentResponse {
	resp := appointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		DoctorID:        a.DoctorID,
		PatientName:     a.PatientName,
		DoctorName:      a.DoctorName,
		AppointmentDate: a.AppointmentDate.UTC().Format(time.RFC3339),
		DurationMinutes: a.DurationMinutes,
		Type:            a.Type,
		Status:          a.Status,
		Notes:           a.Notes,
		Symptoms:        a.Symptoms,
		Diagnosis:       a.Diagnosis,
		Prescription:    a.Prescription,
		CancelReason:    a.CancelReason,
		CreatedAt:       a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if a.CancelledAt != nil {
		resp.CancelledAt = a.CancelledAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func (h *AppointmentHandler) Collection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.list(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *AppointmentHandler) Item(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.get(w, r)
	case http.MethodPut:
		h.update(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *AppointmentHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	req.PatientID = strings.TrimSpace(req.PatientID)
	req.DoctorID = strings.TrimSpace(req.DoctorID)
	if req.PatientID == "" || req.DoctorID == "" {
		http.Error(w, "patient_id and doctor_id required", http.StatusBadRequest)
		return
	}

	caller := callerIdentity(r)
	switch caller.Role {
	case RolePatient:
		if caller.ProfileID != req.PatientID {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	case RoleDoctor:
	default:
		if !h.access.requireManage(w, r, func(p model.Permissions) bool { return p.ManageAppointments }) {
			return
		}
	}

	startTime, err := time.Parse(time.RFC3339, req.AppointmentDate)
	if err != nil {
		http.Error(w, "invalid appointment_date", http.StatusBadRequest)
		return
	}
	if req.DurationMinutes <= 0 {
		http.Error(w, "duration_minutes must be positive", http.StatusBadRequest)
		return
	}
	if !model.ValidAppointmentType(req.Type) {
		http.Error(w, "invalid appointment type", http.StatusBadRequest)
		return
	}
	status := req.Status
	if status == "" {
		status = model.StatusScheduled
	}
	if !model.ValidAppointmentStatus(status) {
		http.Error(w, "invalid appointment status", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	patient, err := h.patients.Get(ctx, req.PatientID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "patient not found", http.StatusNotFound)
			return
		}
		h.logger.Error("load patient", "err", err)
		http.Error(w, "failed to load patient", http.StatusInternalServerError)
		return
	}
	doctor, err := h.doctors.Get(ctx, req.DoctorID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "doctor not found", http.StatusNotFound)
			return
		}
		h.logger.Error("load doctor", "err", err)
		http.Error(w, "failed to load doctor", http.StatusInternalServerError)
		return
	}

	appt := &model.Appointment{
		PatientID:       req.PatientID,
		DoctorID:        req.DoctorID,
		AppointmentDate: startTime,
		DurationMinutes: req.DurationMinutes,
		Type:            req.Type,
		Status:          status,
		Notes:           req.Notes,
		Symptoms:        req.Symptoms,
	}

	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	overlapping, err := h.repo.CountOverlapping(ctx, tx, appt.DoctorID, appt.AppointmentDate, appt.End(), "")
	if err != nil {
		h.logger.Error("overlap check", "err", err)
		http.Error(w, "failed to check doctor availability", http.StatusInternalServerError)
		return
	}
	if overlapping > 0 {
		http.Error(w, "doctor already booked for this time", http.StatusConflict)
		return
	}

	id, err := h.repo.Create(ctx, tx, appt)
	if err != nil {
		if storage.IsConflict(err) {
			http.Error(w, "doctor already booked for this time", http.StatusConflict)
			return
		}
		h.logger.Error("create appointment", "err", err)
		http.Error(w, "failed to create appointment", http.StatusInternalServerError)
		return
	}
	appt.ID = id

	evtPayload, err := json.Marshal(map[string]any{
		"appointment_id":   id,
		"patient_id":       appt.PatientID,
		"doctor_id":        appt.DoctorID,
		"appointment_date": appt.AppointmentDate.UTC().Format(time.RFC3339),
		"duration_minutes": appt.DurationMinutes,
		"type":             appt.Type,
		"patient_email":    patient.Email,
		"patient_phone":    patient.Phone,
	})
	if err != nil {
		http.Error(w, "failed to build event payload", http.StatusInternalServerError)
		return
	}
	if err := h.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   id,
		EventType:     "clinic.appointment.scheduled.v1",
		Payload:       evtPayload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC()
	for _, offset := range h.reminderOffsets {
		remindAt := appt.AppointmentDate.Add(-offset)
		if remindAt.Before(now) {
			continue
		}
		h.enqueueReminder(ctx, tx, appt, patient, doctor, remindAt, "email", patient.Email)
		h.enqueueReminder(ctx, tx, appt, patient, doctor, remindAt, "sms", patient.Phone)
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	appt.PatientName = patient.FirstName + " " + patient.LastName
	appt.DoctorName = doctor.FirstName + " " + doctor.LastName
	writeJSON(w, http.StatusCreated, appointmentToResponse(*appt))
}

func (h *AppointmentHandler) enqueueReminder(ctx context.Context, tx pgx.Tx, appt *model.Appointment, patient model.Patient, doctor model.Doctor, remindAt time.Time, channel, recipient string) {
	if strings.TrimSpace(recipient) == "" {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"patient_id":     appt.PatientID,
		"channel":        channel,
		"recipient":      recipient,
		"remind_at":      remindAt.UTC().Format(time.RFC3339),
		"template_data": map[string]any{
			"patient_name":     patient.FirstName + " " + patient.LastName,
			"doctor_name":      doctor.FirstName + " " + doctor.LastName,
			"appointment_date": appt.AppointmentDate.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		h.logger.Error("marshal reminder payload", "err", err)
		return
	}
	if err := h.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     "clinic.reminder.requested.v1",
		Payload:       payload,
	}); err != nil {
		h.logger.Error("enqueue reminder", "err", err, "appointment_id", appt.ID, "channel", channel)
	}
}

func (h *AppointmentHandler) get(w http.ResponseWriter, r *http.Request) {
	appt, err := h.repo.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		h.logger.Error("get appointment", "err", err)
		http.Error(w, "failed to load appointment", http.StatusInternalServerError)
		return
	}
	if !h.callerMayView(w, r, appt) {
		return
	}
	writeJSON(w, http.StatusOK, appointmentToResponse(appt))
}

func (h *AppointmentHandler) callerMayView(w http.ResponseWriter, r *http.Request, appt model.Appointment) bool {
	caller := callerIdentity(r)
	switch caller.Role {
	case RolePatient:
		if caller.ProfileID != appt.PatientID {
			http.Error(w, "forbidden", http.StatusForbidden)
			return false
		}
	case RoleDoctor:
		if caller.ProfileID != appt.DoctorID {
			http.Error(w, "forbidden", http.StatusForbidden)
			return false
		}
	default:
		return h.access.requireManage(w, r, func(p model.Permissions) bool { return p.ManageAppointments })
	}
	return true
}

func (h *AppointmentHandler) update(w http.ResponseWriter, r *http.Request) {
	var req updateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := h.repo.GetForUpdate(ctx, tx, r.PathValue("id"))
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		h.logger.Error("load appointment", "err", err)
		http.Error(w, "failed to load appointment", http.StatusInternalServerError)
		return
	}
	if !h.callerMayView(w, r, appt) {
		return
	}

	rescheduled := false
	if req.AppointmentDate != nil {
		startTime, err := time.Parse(time.RFC3339, *req.AppointmentDate)
		if err != nil {
			http.Error(w, "invalid appointment_date", http.StatusBadRequest)
			return
		}
		rescheduled = rescheduled || !startTime.Equal(appt.AppointmentDate)
		appt.AppointmentDate = startTime
	}
	if req.DurationMinutes != nil {
		if *req.DurationMinutes <= 0 {
			http.Error(w, "duration_minutes must be positive", http.StatusBadRequest)
			return
		}
		rescheduled = rescheduled || *req.DurationMinutes != appt.DurationMinutes
		appt.DurationMinutes = *req.DurationMinutes
	}
	if req.Type != nil {
		if !model.ValidAppointmentType(*req.Type) {
			http.Error(w, "invalid appointment type", http.StatusBadRequest)
			return
		}
		appt.Type = *req.Type
	}
	if req.Status != nil {
		if !model.ValidAppointmentStatus(*req.Status) {
			http.Error(w, "invalid appointment status", http.StatusBadRequest)
			return
		}
		switch err := model.CheckStatusChange(appt.Status, *req.Status); {
		case errors.Is(err, model.ErrTerminalStatus):
			http.Error(w, "appointment is in a terminal status", http.StatusConflict)
			return
		case errors.Is(err, model.ErrCancelViaUpdate):
			http.Error(w, "use the cancel endpoint to cancel an appointment", http.StatusBadRequest)
			return
		}
		appt.Status = *req.Status
	}
	if req.Notes != nil {
		appt.Notes = *req.Notes
	}
	if req.Symptoms != nil {
		appt.Symptoms = *req.Symptoms
	}
	if req.Diagnosis != nil {
		appt.Diagnosis = *req.Diagnosis
	}
	if req.Prescription != nil {
		appt.Prescription = *req.Prescription
	}

	if rescheduled {
		overlapping, err := h.repo.CountOverlapping(ctx, tx, appt.DoctorID, appt.AppointmentDate, appt.End(), appt.ID)
		if err != nil {
			h.logger.Error("overlap check", "err", err)
			http.Error(w, "failed to check doctor availability", http.StatusInternalServerError)
			return
		}
		if overlapping > 0 {
			http.Error(w, "doctor already booked for this time", http.StatusConflict)
			return
		}
	}

	if err := h.repo.Update(ctx, tx, &appt); err != nil {
		if storage.IsConflict(err) {
			http.Error(w, "doctor already booked for this time", http.StatusConflict)
			return
		}
		h.logger.Error("update appointment", "err", err)
		http.Error(w, "failed to update appointment", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, appointmentToResponse(appt))
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelAppointmentRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	req.Reason = strings.TrimSpace(req.Reason)

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := h.repo.GetForUpdate(ctx, tx, r.PathValue("id"))
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		h.logger.Error("load appointment", "err", err)
		http.Error(w, "failed to load appointment", http.StatusInternalServerError)
		return
	}
	if !h.callerMayView(w, r, appt) {
		return
	}

	if appt.Status == model.StatusCancelled {
		// Repeated cancels return the original cancellation.
		writeJSON(w, http.StatusOK, appointmentToResponse(appt))
		return
	}

	cancelledAt, err := h.repo.Cancel(ctx, tx, appt.ID, req.Reason)
	if err != nil {
		h.logger.Error("cancel appointment", "err", err)
		http.Error(w, "failed to cancel appointment", http.StatusInternalServerError)
		return
	}

	evtPayload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"patient_id":     appt.PatientID,
		"doctor_id":      appt.DoctorID,
		"cancelled_at":   cancelledAt.UTC().Format(time.RFC3339),
		"reason":         req.Reason,
	})
	if err != nil {
		http.Error(w, "failed to build event payload", http.StatusInternalServerError)
		return
	}
	if err := h.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     "clinic.appointment.cancelled.v1",
		Payload:       evtPayload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	appt.Status = model.StatusCancelled
	appt.CancelledAt = &cancelledAt
	appt.CancelReason = req.Reason
	writeJSON(w, http.StatusOK, appointmentToResponse(appt))
}

func appointmentFilterFromQuery(q url.Values) (storage.AppointmentFilter, error) {
	limit, _ := strconv.Atoi(q.Get("limit"))
	filter := storage.AppointmentFilter{
		PatientID: strings.TrimSpace(q.Get("patient_id")),
		DoctorID:  strings.TrimSpace(q.Get("doctor_id")),
		Status:    strings.TrimSpace(q.Get("status")),
		Search:    strings.TrimSpace(q.Get("search")),
		Limit:     limit,
	}
	if from := q.Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return filter, errors.New("invalid from")
		}
		filter.From = &t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return filter, errors.New("invalid to")
		}
		filter.To = &t
	}
	return filter, nil
}

func (h *AppointmentHandler) list(w http.ResponseWriter, r *http.Request) {
	filter, err := appointmentFilterFromQuery(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Patients and doctors see their own schedule only.
	caller := callerIdentity(r)
	switch caller.Role {
	case RolePatient:
		filter.PatientID = caller.ProfileID
	case RoleDoctor:
		filter.DoctorID = caller.ProfileID
	default:
		if !h.access.requireManage(w, r, func(p model.Permissions) bool { return p.ManageAppointments }) {
			return
		}
	}

	appts, err := h.repo.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list appointments", "err", err)
		http.Error(w, "failed to list appointments", http.StatusInternalServerError)
		return
	}

	items := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		items = append(items, appointmentToResponse(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": items})
}
