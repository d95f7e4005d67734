package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/clinicore/clinicore/libs/money"
	"github.com/clinicore/clinicore/libs/outbox"
	"github.com/clinicore/clinicore/services/clinic-service/internal/model"
	"github.com/clinicore/clinicore/services/clinic-service/internal/storage"
)

type BillHandler struct {
	repo         *storage.BillRepository
	appointments *storage.AppointmentRepository
	patients     *storage.PatientRepository
	outbox       *outbox.Repository
	access       *AccessChecker
	logger       *slog.Logger
}

func NewBillHandler(repo *storage.BillRepository, appointments *storage.AppointmentRepository, patients *storage.PatientRepository, outboxRepo *outbox.Repository, access *AccessChecker, logger *slog.Logger) *BillHandler {
	return &BillHandler{
		repo:         repo,
		appointments: appointments,
		patients:     patients,
		outbox:       outboxRepo,
		access:       access,
		logger:       logger,
	}
}

type createBillRequest struct {
	AppointmentID string      `json:"appointment_id"`
	PatientID     string      `json:"patient_id,omitempty"`
	Amount        money.Cents `json:"amount"`
	Tax           money.Cents `json:"tax"`
	DueDate       string      `json:"due_date,omitempty"`
	PaymentMethod string      `json:"payment_method,omitempty"`
}

type updateBillRequest struct {
	Status           *string `json:"status,omitempty"`
	PaymentMethod    *string `json:"payment_method,omitempty"`
	PaymentReference *string `json:"payment_reference,omitempty"`
	DueDate          *string `json:"due_date,omitempty"`
}

type billResponse struct {
	ID               string      `json:"id"`
	AppointmentID    string      `json:"appointment_id"`
	PatientID        string      `json:"patient_id"`
	Amount           money.Cents `json:"amount"`
	Tax              money.Cents `json:"tax"`
	TotalAmount      money.Cents `json:"total_amount"`
	Status           string      `json:"status"`
	DueDate          string      `json:"due_date,omitempty"`
	PaymentMethod    string      `json:"payment_method,omitempty"`
	PaymentReference string      `json:"payment_reference,omitempty"`
	PaidAt           string      `json:"paid_at,omitempty"`
	CreatedAt        string      `json:"created_at"`
}

func billToResponse(b model.Bill) billResponse {
	resp := billResponse{
		ID:               b.ID,
		AppointmentID:    b.AppointmentID,
		PatientID:        b.PatientID,
		Amount:           b.AmountCents,
		Tax:              b.TaxCents,
		TotalAmount:      b.TotalCents,
		Status:           b.Status,
		PaymentMethod:    b.PaymentMethod,
		PaymentReference: b.PaymentReference,
		CreatedAt:        b.CreatedAt.UTC().Format(time.RFC3339),
	}
	if b.DueDate != nil {
		resp.DueDate = b.DueDate.UTC().Format("2006-01-02")
	}
	if b.PaidAt != nil {
		resp.PaidAt = b.PaidAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func (h *BillHandler) Collection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.list(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *BillHandler) Item(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.get(w, r)
	case http.MethodPut:
		h.update(w, r)
	case http.MethodDelete:
		h.delete(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// billFromCreateRequest validates the request against the appointment's
// patient and computes the total. patient_id defaults to the appointment's
// patient and must match it when supplied.
func billFromCreateRequest(req createBillRequest, apptPatientID string) (model.Bill, error) {
	if strings.TrimSpace(req.AppointmentID) == "" {
		return model.Bill{}, errMissingAppointment
	}
	if req.Amount < 0 || req.Tax < 0 {
		return model.Bill{}, errNegativeAmounts
	}
	patientID := strings.TrimSpace(req.PatientID)
	if patientID == "" {
		patientID = apptPatientID
	} else if patientID != apptPatientID {
		return model.Bill{}, errPatientMismatch
	}

	bill := model.Bill{
		AppointmentID: strings.TrimSpace(req.AppointmentID),
		PatientID:     patientID,
		AmountCents:   req.Amount,
		TaxCents:      req.Tax,
		TotalCents:    req.Amount + req.Tax,
		Status:        model.BillPending,
		PaymentMethod: strings.TrimSpace(req.PaymentMethod),
	}
	if req.DueDate != "" {
		due, err := time.Parse("2006-01-02", req.DueDate)
		if err != nil {
			return model.Bill{}, errBadDueDate
		}
		bill.DueDate = &due
	}
	return bill, nil
}

// firstPaidTransition reports whether moving b into next is the bill's
// first transition into paid, which stamps paid_at and emits the paid
// event exactly once.
func firstPaidTransition(b model.Bill, next string) bool {
	return next == model.BillPaid && b.Status != model.BillPaid && b.PaidAt == nil
}

func (h *BillHandler) create(w http.ResponseWriter, r *http.Request) {
	if !h.access.requireManage(w, r, func(p model.Permissions) bool { return p.ManageBilling }) {
		return
	}

	var req createBillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.AppointmentID) == "" {
		http.Error(w, errMissingAppointment.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	appt, err := h.appointments.Get(ctx, strings.TrimSpace(req.AppointmentID))
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		h.logger.Error("load appointment", "err", err)
		http.Error(w, "failed to load appointment", http.StatusInternalServerError)
		return
	}

	parsed, err := billFromCreateRequest(req, appt.PatientID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	bill := &parsed

	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id, err := h.repo.Create(ctx, tx, bill)
	if err != nil {
		h.logger.Error("create bill", "err", err)
		http.Error(w, "failed to create bill", http.StatusInternalServerError)
		return
	}
	bill.ID = id

	evtPayload, err := json.Marshal(map[string]any{
		"bill_id":        id,
		"appointment_id": bill.AppointmentID,
		"patient_id":     bill.PatientID,
		"total_amount":   bill.TotalCents,
		"status":         bill.Status,
	})
	if err != nil {
		http.Error(w, "failed to build event payload", http.StatusInternalServerError)
		return
	}
	if err := h.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "bill",
		AggregateID:   id,
		EventType:     "clinic.bill.created.v1",
		Payload:       evtPayload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	if bill.DueDate != nil && bill.DueDate.After(time.Now()) {
		h.enqueueDueReminder(ctx, tx, bill)
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, billToResponse(*bill))
}

func (h *BillHandler) enqueueDueReminder(ctx context.Context, tx pgx.Tx, bill *model.Bill) {
	patient, err := h.patients.Get(ctx, bill.PatientID)
	if err != nil {
		h.logger.Error("load patient for due reminder", "err", err, "bill_id", bill.ID)
		return
	}
	payload, err := json.Marshal(map[string]any{
		"bill_id":    bill.ID,
		"patient_id": bill.PatientID,
		"channel":    "email",
		"recipient":  patient.Email,
		"remind_at":  bill.DueDate.UTC().Format(time.RFC3339),
		"template_data": map[string]any{
			"patient_name": patient.FirstName + " " + patient.LastName,
			"total_amount": bill.TotalCents,
			"due_date":     bill.DueDate.UTC().Format("2006-01-02"),
		},
	})
	if err != nil {
		h.logger.Error("marshal due reminder payload", "err", err)
		return
	}
	if err := h.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "bill",
		AggregateID:   bill.ID,
		EventType:     "clinic.reminder.requested.v1",
		Payload:       payload,
	}); err != nil {
		h.logger.Error("enqueue due reminder", "err", err, "bill_id", bill.ID)
	}
}

func (h *BillHandler) get(w http.ResponseWriter, r *http.Request) {
	bill, err := h.repo.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "bill not found", http.StatusNotFound)
			return
		}
		h.logger.Error("get bill", "err", err)
		http.Error(w, "failed to load bill", http.StatusInternalServerError)
		return
	}

	caller := callerIdentity(r)
	if caller.Role == RolePatient {
		if caller.ProfileID != bill.PatientID {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	} else if caller.Role != RoleDoctor {
		if !h.access.requireManage(w, r, func(p model.Permissions) bool { return p.ManageBilling }) {
			return
		}
	}
	writeJSON(w, http.StatusOK, billToResponse(bill))
}

func (h *BillHandler) update(w http.ResponseWriter, r *http.Request) {
	if !h.access.requireManage(w, r, func(p model.Permissions) bool { return p.ManageBilling }) {
		return
	}

	var req updateBillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.Status != nil && !model.ValidBillStatus(*req.Status) {
		http.Error(w, "invalid bill status", http.StatusBadRequest)
		return
	}
	var dueDate *time.Time
	if req.DueDate != nil && *req.DueDate != "" {
		due, err := time.Parse("2006-01-02", *req.DueDate)
		if err != nil {
			http.Error(w, errBadDueDate.Error(), http.StatusBadRequest)
			return
		}
		dueDate = &due
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	bill, err := h.repo.GetForUpdate(ctx, tx, r.PathValue("id"))
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "bill not found", http.StatusNotFound)
			return
		}
		h.logger.Error("load bill", "err", err)
		http.Error(w, "failed to load bill", http.StatusInternalServerError)
		return
	}

	status := bill.Status
	if req.Status != nil {
		status = *req.Status
	}
	method := ""
	if req.PaymentMethod != nil {
		method = *req.PaymentMethod
	}
	reference := ""
	if req.PaymentReference != nil {
		reference = *req.PaymentReference
	}

	firstPaid := firstPaidTransition(bill, status)

	paidAt, err := h.repo.MarkStatus(ctx, tx, bill.ID, status, method, reference, dueDate)
	if err != nil {
		h.logger.Error("update bill", "err", err)
		http.Error(w, "failed to update bill", http.StatusInternalServerError)
		return
	}

	if firstPaid {
		evtPayload, err := json.Marshal(map[string]any{
			"bill_id":        bill.ID,
			"appointment_id": bill.AppointmentID,
			"patient_id":     bill.PatientID,
			"total_amount":   bill.TotalCents,
			"paid_at":        paidAt.UTC().Format(time.RFC3339),
		})
		if err != nil {
			http.Error(w, "failed to build event payload", http.StatusInternalServerError)
			return
		}
		if err := h.outbox.Insert(ctx, tx, outbox.Event{
			AggregateType: "bill",
			AggregateID:   bill.ID,
			EventType:     "clinic.bill.paid.v1",
			Payload:       evtPayload,
		}); err != nil {
			http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	bill.Status = status
	bill.PaidAt = paidAt
	if method != "" {
		bill.PaymentMethod = method
	}
	if reference != "" {
		bill.PaymentReference = reference
	}
	if dueDate != nil {
		bill.DueDate = dueDate
	}
	writeJSON(w, http.StatusOK, billToResponse(bill))
}

func (h *BillHandler) delete(w http.ResponseWriter, r *http.Request) {
	if !h.access.requireManage(w, r, func(p model.Permissions) bool { return p.ManageBilling }) {
		return
	}
	if err := h.repo.Delete(r.Context(), r.PathValue("id")); err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "bill not found", http.StatusNotFound)
			return
		}
		h.logger.Error("delete bill", "err", err)
		http.Error(w, "failed to delete bill", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BillHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	filter := storage.BillFilter{
		PatientID:     strings.TrimSpace(q.Get("patient_id")),
		AppointmentID: strings.TrimSpace(q.Get("appointment_id")),
		Status:        strings.TrimSpace(q.Get("status")),
		Limit:         limit,
	}

	caller := callerIdentity(r)
	switch caller.Role {
	case RolePatient:
		filter.PatientID = caller.ProfileID
	case RoleDoctor:
	default:
		if !h.access.requireManage(w, r, func(p model.Permissions) bool { return p.ManageBilling }) {
			return
		}
	}

	bills, err := h.repo.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list bills", "err", err)
		http.Error(w, "failed to list bills", http.StatusInternalServerError)
		return
	}

	items := make([]billResponse, 0, len(bills))
	for _, b := range bills {
		items = append(items, billToResponse(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"bills": items})
}
