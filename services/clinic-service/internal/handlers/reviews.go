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

type ReviewHandler struct {
	repo         *storage.ReviewRepository
	appointments *storage.AppointmentRepository
	access       *AccessChecker
	logger       *slog.Logger
}

func NewReviewHandler(repo *storage.ReviewRepository, appointments *storage.AppointmentRepository, access *AccessChecker, logger *slog.Logger) *ReviewHandler {
	return &ReviewHandler{repo: repo, appointments: appointments, access: access, logger: logger}
}

type createReviewRequest struct {
	AppointmentID  string `json:"appointment_id"`
	Overall        int    `json:"overall_rating"`
	ServiceQuality int    `json:"service_quality"`
	Communication  int    `json:"communication"`
	WaitTime       int    `json:"wait_time"`
	Cleanliness    int    `json:"cleanliness"`
	Comment        string `json:"comment,omitempty"`
	Recommend      bool   `json:"recommend"`
	Anonymous      bool   `json:"anonymous"`
}

type reviewResponse struct {
	ID             string `json:"id"`
	AppointmentID  string `json:"appointment_id"`
	PatientID      string `json:"patient_id,omitempty"`
	DoctorID       string `json:"doctor_id"`
	Overall        int    `json:"overall_rating"`
	ServiceQuality int    `json:"service_quality"`
	Communication  int    `json:"communication"`
	WaitTime       int    `json:"wait_time"`
	Cleanliness    int    `json:"cleanliness"`
	Comment        string `json:"comment,omitempty"`
	Recommend      bool   `json:"recommend"`
	Anonymous      bool   `json:"anonymous"`
	CreatedAt      string `json:"created_at"`
}

func reviewToResponse(rev model.Review) reviewResponse {
	resp := reviewResponse{
		ID:             rev.ID,
		AppointmentID:  rev.AppointmentID,
		PatientID:      rev.PatientID,
		DoctorID:       rev.DoctorID,
		Overall:        rev.Overall,
		ServiceQuality: rev.ServiceQuality,
		Communication:  rev.Communication,
		WaitTime:       rev.WaitTime,
		Cleanliness:    rev.Cleanliness,
		Comment:        rev.Comment,
		Recommend:      rev.Recommend,
		Anonymous:      rev.Anonymous,
		CreatedAt:      rev.CreatedAt.UTC().Format(time.RFC3339),
	}
	if rev.Anonymous {
		resp.PatientID = ""
	}
	return resp
}

func (h *ReviewHandler) Collection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.list(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *ReviewHandler) create(w http.ResponseWriter, r *http.Request) {
	caller := callerIdentity(r)
	if caller.Role != RolePatient {
		http.Error(w, "only patients may leave reviews", http.StatusForbidden)
		return
	}

	var req createReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}
	for _, rating := range []int{req.Overall, req.ServiceQuality, req.Communication, req.WaitTime, req.Cleanliness} {
		if !model.ValidRating(rating) {
			http.Error(w, "ratings must be between 1 and 5", http.StatusBadRequest)
			return
		}
	}

	ctx := r.Context()
	appt, err := h.appointments.Get(ctx, req.AppointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		h.logger.Error("load appointment", "err", err)
		http.Error(w, "failed to load appointment", http.StatusInternalServerError)
		return
	}
	if appt.PatientID != caller.ProfileID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if appt.Status != model.StatusCompleted {
		http.Error(w, "only completed appointments may be reviewed", http.StatusConflict)
		return
	}

	review := &model.Review{
		AppointmentID:  appt.ID,
		PatientID:      appt.PatientID,
		DoctorID:       appt.DoctorID,
		Overall:        req.Overall,
		ServiceQuality: req.ServiceQuality,
		Communication:  req.Communication,
		WaitTime:       req.WaitTime,
		Cleanliness:    req.Cleanliness,
		Comment:        strings.TrimSpace(req.Comment),
		Recommend:      req.Recommend,
		Anonymous:      req.Anonymous,
	}

	id, err := h.repo.Create(ctx, review)
	if err != nil {
		if storage.IsDuplicate(err) {
			http.Error(w, "appointment already reviewed", http.StatusConflict)
			return
		}
		h.logger.Error("create review", "err", err)
		http.Error(w, "failed to create review", http.StatusInternalServerError)
		return
	}
	review.ID = id
	review.CreatedAt = time.Now().UTC()
	writeJSON(w, http.StatusCreated, reviewToResponse(*review))
}

func (h *ReviewHandler) list(w http.ResponseWriter, r *http.Request) {
	doctorID := strings.TrimSpace(r.URL.Query().Get("doctor_id"))
	if doctorID == "" {
		http.Error(w, "doctor_id required", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	reviews, err := h.repo.ListByDoctor(r.Context(), doctorID, limit)
	if err != nil {
		h.logger.Error("list reviews", "err", err)
		http.Error(w, "failed to list reviews", http.StatusInternalServerError)
		return
	}
	summary, err := h.repo.SummaryByDoctor(r.Context(), doctorID)
	if err != nil {
		h.logger.Error("review summary", "err", err)
		http.Error(w, "failed to load review summary", http.StatusInternalServerError)
		return
	}

	items := make([]reviewResponse, 0, len(reviews))
	for _, rev := range reviews {
		items = append(items, reviewToResponse(rev))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reviews":        items,
		"review_count":   summary.ReviewCount,
		"average_rating": summary.AverageOverall,
		"recommend_pct":  summary.RecommendPct,
	})
}
