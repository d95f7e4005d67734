package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/clinicore/clinicore/services/clinic-service/internal/model"
	"github.com/clinicore/clinicore/services/clinic-service/internal/storage"
)

type PatientHandler struct {
	repo   *storage.PatientRepository
	access *AccessChecker
	logger *slog.Logger
}

func NewPatientHandler(repo *storage.PatientRepository, access *AccessChecker, logger *slog.Logger) *PatientHandler {
	return &PatientHandler{repo: repo, access: access, logger: logger}
}

type patientPayload struct {
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	DateOfBirth    string `json:"date_of_birth,omitempty"`
	Gender         string `json:"gender,omitempty"`
	Address        string `json:"address,omitempty"`
	MedicalHistory string `json:"medical_history,omitempty"`
	Allergies      string `json:"allergies,omitempty"`
	Medications    string `json:"medications,omitempty"`
}

type patientResponse struct {
	ID string `json:"id"`
	patientPayload
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func patientToResponse(p model.Patient) patientResponse {
	resp := patientResponse{
		ID: p.ID,
		patientPayload: patientPayload{
			FirstName:      p.FirstName,
			LastName:       p.LastName,
			Email:          p.Email,
			Phone:          p.Phone,
			Gender:         p.Gender,
			Address:        p.Address,
			MedicalHistory: p.MedicalHistory,
			Allergies:      p.Allergies,
			Medications:    p.Medications,
		},
		CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: p.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if p.DateOfBirth != nil {
		resp.DateOfBirth = p.DateOfBirth.UTC().Format("2006-01-02")
	}
	return resp
}

func (h *PatientHandler) Collection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.list(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *PatientHandler) Item(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.get(w, r)
	case http.MethodPut:
		h.update(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *PatientHandler) create(w http.ResponseWriter, r *http.Request) {
	if !h.access.requireManage(w, r, func(p model.Permissions) bool { return p.ManagePatients }) {
		return
	}

	var req patientPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	patient, err := patientFromPayload(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := h.repo.Create(r.Context(), &patient)
	if err != nil {
		if storage.IsDuplicate(err) {
			http.Error(w, "patient email already registered", http.StatusConflict)
			return
		}
		h.logger.Error("create patient", "err", err)
		http.Error(w, "failed to create patient", http.StatusInternalServerError)
		return
	}
	patient.ID = id
	patient.CreatedAt = time.Now().UTC()
	patient.UpdatedAt = patient.CreatedAt
	writeJSON(w, http.StatusCreated, patientToResponse(patient))
}

func (h *PatientHandler) get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	caller := callerIdentity(r)
	if caller.Role == RolePatient && caller.ProfileID != id {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	patient, err := h.repo.Get(r.Context(), id)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "patient not found", http.StatusNotFound)
			return
		}
		h.logger.Error("get patient", "err", err)
		http.Error(w, "failed to load patient", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, patientToResponse(patient))
}

func (h *PatientHandler) update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	caller := callerIdentity(r)
	if caller.Role == RolePatient {
		// Patients may edit their own record only.
		if caller.ProfileID != id {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	} else if !h.access.requireManage(w, r, func(p model.Permissions) bool { return p.ManagePatients }) {
		return
	}

	existing, err := h.repo.Get(r.Context(), id)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "patient not found", http.StatusNotFound)
			return
		}
		h.logger.Error("get patient", "err", err)
		http.Error(w, "failed to load patient", http.StatusInternalServerError)
		return
	}

	req := payloadFromPatient(existing)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	patient, err := patientFromPayload(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	patient.ID = id
	patient.CreatedAt = existing.CreatedAt

	if err := h.repo.Update(r.Context(), &patient); err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "patient not found", http.StatusNotFound)
			return
		}
		if storage.IsDuplicate(err) {
			http.Error(w, "patient email already registered", http.StatusConflict)
			return
		}
		h.logger.Error("update patient", "err", err)
		http.Error(w, "failed to update patient", http.StatusInternalServerError)
		return
	}
	patient.UpdatedAt = time.Now().UTC()
	writeJSON(w, http.StatusOK, patientToResponse(patient))
}

func (h *PatientHandler) list(w http.ResponseWriter, r *http.Request) {
	if !h.access.requireManage(w, r, func(p model.Permissions) bool { return p.ManagePatients }) {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	search := strings.TrimSpace(r.URL.Query().Get("search"))
	patients, err := h.repo.List(r.Context(), search, limit)
	if err != nil {
		h.logger.Error("list patients", "err", err)
		http.Error(w, "failed to list patients", http.StatusInternalServerError)
		return
	}

	items := make([]patientResponse, 0, len(patients))
	for _, p := range patients {
		items = append(items, patientToResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"patients": items})
}

func patientFromPayload(req patientPayload) (model.Patient, error) {
	p := model.Patient{
		FirstName:      strings.TrimSpace(req.FirstName),
		LastName:       strings.TrimSpace(req.LastName),
		Email:          strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:          strings.TrimSpace(req.Phone),
		Gender:         strings.TrimSpace(req.Gender),
		Address:        strings.TrimSpace(req.Address),
		MedicalHistory: req.MedicalHistory,
		Allergies:      req.Allergies,
		Medications:    req.Medications,
	}
	if p.FirstName == "" || p.LastName == "" || p.Email == "" {
		return model.Patient{}, errMissingNameEmail
	}
	if req.DateOfBirth != "" {
		dob, err := time.Parse("2006-01-02", req.DateOfBirth)
		if err != nil {
			return model.Patient{}, errBadDateOfBirth
		}
		p.DateOfBirth = &dob
	}
	return p, nil
}

func payloadFromPatient(p model.Patient) patientPayload {
	resp := patientToResponse(p)
	return resp.patientPayload
}
