package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/clinicore/clinicore/libs/money"
	"github.com/clinicore/clinicore/services/clinic-service/internal/availability"
	"github.com/clinicore/clinicore/services/clinic-service/internal/model"
	"github.com/clinicore/clinicore/services/clinic-service/internal/storage"
)

type DoctorHandler struct {
	repo         *storage.DoctorRepository
	reviews      *storage.ReviewRepository
	appointments *storage.AppointmentRepository
	access       *AccessChecker
	logger       *slog.Logger
}

func NewDoctorHandler(repo *storage.DoctorRepository, reviews *storage.ReviewRepository, appointments *storage.AppointmentRepository, access *AccessChecker, logger *slog.Logger) *DoctorHandler {
	return &DoctorHandler{repo: repo, reviews: reviews, appointments: appointments, access: access, logger: logger}
}

type doctorPayload struct {
	FirstName       string      `json:"first_name"`
	LastName        string      `json:"last_name"`
	Email           string      `json:"email"`
	Phone           string      `json:"phone"`
	Specialization  string      `json:"specialization"`
	LicenseNumber   string      `json:"license_number"`
	ConsultationFee money.Cents `json:"consultation_fee"`
	Availability    string      `json:"availability,omitempty"`
	Active          *bool       `json:"active,omitempty"`
}

type doctorResponse struct {
	ID              string      `json:"id"`
	FirstName       string      `json:"first_name"`
	LastName        string      `json:"last_name"`
	Email           string      `json:"email"`
	Phone           string      `json:"phone"`
	Specialization  string      `json:"specialization"`
	LicenseNumber   string      `json:"license_number"`
	ConsultationFee money.Cents `json:"consultation_fee"`
	Availability    string      `json:"availability,omitempty"`
	Active          bool        `json:"active"`
	CreatedAt       string      `json:"created_at"`
	UpdatedAt       string      `json:"updated_at"`
}

func doctorToResponse(d model.Doctor) doctorResponse {
	return doctorResponse{
		ID:              d.ID,
		FirstName:       d.FirstName,
		LastName:        d.LastName,
		Email:           d.Email,
		Phone:           d.Phone,
		Specialization:  d.Specialization,
		LicenseNumber:   d.LicenseNumber,
		ConsultationFee: d.FeeCents,
		Availability:    d.Availability,
		Active:          d.Active,
		CreatedAt:       d.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       d.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *DoctorHandler) Collection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.list(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *DoctorHandler) Item(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.get(w, r)
	case http.MethodPut:
		h.update(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *DoctorHandler) create(w http.ResponseWriter, r *http.Request) {
	if !h.access.requireManage(w, r, func(p model.Permissions) bool { return p.ManageDoctors }) {
		return
	}

	var req doctorPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	doctor, err := doctorFromPayload(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	doctor.Active = true

	id, err := h.repo.Create(r.Context(), &doctor)
	if err != nil {
		if storage.IsDuplicate(err) {
			http.Error(w, "doctor email or license already registered", http.StatusConflict)
			return
		}
		h.logger.Error("create doctor", "err", err)
		http.Error(w, "failed to create doctor", http.StatusInternalServerError)
		return
	}
	doctor.ID = id
	doctor.CreatedAt = time.Now().UTC()
	doctor.UpdatedAt = doctor.CreatedAt
	writeJSON(w, http.StatusCreated, doctorToResponse(doctor))
}

func (h *DoctorHandler) get(w http.ResponseWriter, r *http.Request) {
	doctor, err := h.repo.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "doctor not found", http.StatusNotFound)
			return
		}
		h.logger.Error("get doctor", "err", err)
		http.Error(w, "failed to load doctor", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, doctorToResponse(doctor))
}

func (h *DoctorHandler) update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	caller := callerIdentity(r)
	if caller.Role == RoleDoctor {
		// Doctors may edit their own profile only.
		if caller.ProfileID != id {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	} else if !h.access.requireManage(w, r, func(p model.Permissions) bool { return p.ManageDoctors }) {
		return
	}

	existing, err := h.repo.Get(r.Context(), id)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "doctor not found", http.StatusNotFound)
			return
		}
		h.logger.Error("get doctor", "err", err)
		http.Error(w, "failed to load doctor", http.StatusInternalServerError)
		return
	}

	req := doctorPayload{
		FirstName:       existing.FirstName,
		LastName:        existing.LastName,
		Email:           existing.Email,
		Phone:           existing.Phone,
		Specialization:  existing.Specialization,
		LicenseNumber:   existing.LicenseNumber,
		ConsultationFee: existing.FeeCents,
		Availability:    existing.Availability,
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	doctor, err := doctorFromPayload(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	doctor.ID = id
	doctor.CreatedAt = existing.CreatedAt
	doctor.Active = existing.Active
	if req.Active != nil {
		doctor.Active = *req.Active
	}

	if err := h.repo.Update(r.Context(), &doctor); err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "doctor not found", http.StatusNotFound)
			return
		}
		if storage.IsDuplicate(err) {
			http.Error(w, "doctor email or license already registered", http.StatusConflict)
			return
		}
		h.logger.Error("update doctor", "err", err)
		http.Error(w, "failed to update doctor", http.StatusInternalServerError)
		return
	}
	doctor.UpdatedAt = time.Now().UTC()
	writeJSON(w, http.StatusOK, doctorToResponse(doctor))
}

func (h *DoctorHandler) list(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	specialization := strings.TrimSpace(r.URL.Query().Get("specialization"))
	doctors, err := h.repo.List(r.Context(), specialization, limit)
	if err != nil {
		h.logger.Error("list doctors", "err", err)
		http.Error(w, "failed to list doctors", http.StatusInternalServerError)
		return
	}

	items := make([]doctorResponse, 0, len(doctors))
	for _, d := range doctors {
		items = append(items, doctorToResponse(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"doctors": items})
}

// Rating returns the aggregate review summary for one doctor.
func (h *DoctorHandler) Rating(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.PathValue("id")
	if _, err := h.repo.Get(r.Context(), id); err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "doctor not found", http.StatusNotFound)
			return
		}
		h.logger.Error("get doctor", "err", err)
		http.Error(w, "failed to load doctor", http.StatusInternalServerError)
		return
	}
	summary, err := h.reviews.SummaryByDoctor(r.Context(), id)
	if err != nil {
		h.logger.Error("doctor rating summary", "err", err)
		http.Error(w, "failed to load rating summary", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"doctor_id":      summary.DoctorID,
		"review_count":   summary.ReviewCount,
		"average_rating": summary.AverageOverall,
		"recommend_pct":  summary.RecommendPct,
	})
}

// Slots lists a doctor's free appointment start times for one day.
// Working hours are 09:00-17:00 UTC with candidate starts every 15 minutes.
func (h *DoctorHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.PathValue("id")
	if _, err := h.repo.Get(r.Context(), id); err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "doctor not found", http.StatusNotFound)
			return
		}
		h.logger.Error("get doctor", "err", err)
		http.Error(w, "failed to load doctor", http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC()
	day := now.Truncate(24 * time.Hour)
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		day = parsed
	}
	duration := 30 * time.Minute
	if raw := r.URL.Query().Get("duration_minutes"); raw != "" {
		mins, err := strconv.Atoi(raw)
		if err != nil || mins <= 0 || mins > 8*60 {
			http.Error(w, "duration_minutes must be a positive number of minutes", http.StatusBadRequest)
			return
		}
		duration = time.Duration(mins) * time.Minute
	}

	windowStart := day.Add(9 * time.Hour)
	windowEnd := day.Add(17 * time.Hour)
	booked, err := h.appointments.BookedIntervals(r.Context(), id, windowStart, windowEnd)
	if err != nil {
		h.logger.Error("booked intervals", "err", err)
		http.Error(w, "failed to load doctor schedule", http.StatusInternalServerError)
		return
	}

	free := availability.FreeSlots(windowStart, windowEnd, duration, 15*time.Minute, booked, now)
	slots := make([]string, 0, len(free))
	for _, start := range free {
		slots = append(slots, start.Format(time.RFC3339))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"doctor_id":        id,
		"date":             day.Format("2006-01-02"),
		"duration_minutes": int(duration / time.Minute),
		"slots":            slots,
	})
}

func doctorFromPayload(req doctorPayload) (model.Doctor, error) {
	d := model.Doctor{
		FirstName:      strings.TrimSpace(req.FirstName),
		LastName:       strings.TrimSpace(req.LastName),
		Email:          strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:          strings.TrimSpace(req.Phone),
		Specialization: strings.TrimSpace(req.Specialization),
		LicenseNumber:  strings.TrimSpace(req.LicenseNumber),
		FeeCents:       req.ConsultationFee,
		Availability:   req.Availability,
	}
	if d.FirstName == "" || d.LastName == "" || d.Email == "" {
		return model.Doctor{}, errMissingNameEmail
	}
	if d.FeeCents < 0 {
		return model.Doctor{}, errNegativeFee
	}
	return d, nil
}
