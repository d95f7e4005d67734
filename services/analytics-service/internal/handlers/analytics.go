// Package handlers serves the analytics read endpoints. The gateway only
// routes admin and sub-admin callers here, so the handlers do not re-check
// roles beyond requiring an authenticated identity.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/clinicore/clinicore/libs/money"
	"github.com/clinicore/clinicore/services/analytics-service/internal/storage"
)

type AnalyticsHandler struct {
	repo   *storage.Repository
	logger *slog.Logger
}

func NewAnalyticsHandler(repo *storage.Repository, logger *slog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{repo: repo, logger: logger}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type dashboardResponse struct {
	TotalPatients     int64       `json:"total_patients"`
	TotalDoctors      int64       `json:"total_doctors"`
	TotalAppointments int64       `json:"total_appointments"`
	TotalRevenue      money.Cents `json:"total_revenue"`
}

func (h *AnalyticsHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats, err := h.repo.DashboardStats(r.Context())
	if err != nil {
		h.logger.Error("dashboard stats", "err", err)
		http.Error(w, "failed to compute dashboard stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, dashboardResponse{
		TotalPatients:     stats.TotalPatients,
		TotalDoctors:      stats.TotalDoctors,
		TotalAppointments: stats.TotalAppointments,
		TotalRevenue:      stats.TotalRevenue,
	})
}

type revenueTrendPoint struct {
	Date  string      `json:"date"`
	Value money.Cents `json:"value"`
}

type countTrendPoint struct {
	Date  string `json:"date"`
	Value int64  `json:"value"`
}

func (h *AnalyticsHandler) RevenueTrends(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	points, err := h.repo.RevenueTrend(r.Context(), periodParam(r))
	if err != nil {
		if errors.Is(err, storage.ErrInvalidPeriod) {
			http.Error(w, "period must be day, week, month or year", http.StatusBadRequest)
			return
		}
		h.logger.Error("revenue trend", "err", err)
		http.Error(w, "failed to compute revenue trend", http.StatusInternalServerError)
		return
	}
	out := make([]revenueTrendPoint, 0, len(points))
	for _, p := range points {
		out = append(out, revenueTrendPoint{
			Date:  p.Date.UTC().Format("2006-01-02"),
			Value: money.Cents(p.Value),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"trends": out})
}

func (h *AnalyticsHandler) AppointmentTrends(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	points, err := h.repo.AppointmentTrend(r.Context(), periodParam(r))
	if err != nil {
		if errors.Is(err, storage.ErrInvalidPeriod) {
			http.Error(w, "period must be day, week, month or year", http.StatusBadRequest)
			return
		}
		h.logger.Error("appointment trend", "err", err)
		http.Error(w, "failed to compute appointment trend", http.StatusInternalServerError)
		return
	}
	out := make([]countTrendPoint, 0, len(points))
	for _, p := range points {
		out = append(out, countTrendPoint{
			Date:  p.Date.UTC().Format("2006-01-02"),
			Value: p.Value,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"trends": out})
}

type doctorPerformanceResponse struct {
	DoctorID         string      `json:"doctor_id"`
	DoctorName       string      `json:"doctor_name"`
	AppointmentCount int64       `json:"appointment_count"`
	RevenueSum       money.Cents `json:"revenue_sum"`
}

func (h *AnalyticsHandler) DoctorPerformance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ranking, err := h.repo.DoctorPerformanceRanking(r.Context())
	if err != nil {
		h.logger.Error("doctor performance", "err", err)
		http.Error(w, "failed to compute doctor performance", http.StatusInternalServerError)
		return
	}
	out := make([]doctorPerformanceResponse, 0, len(ranking))
	for _, p := range ranking {
		out = append(out, doctorPerformanceResponse{
			DoctorID:         p.DoctorID,
			DoctorName:       p.DoctorName,
			AppointmentCount: p.AppointmentCount,
			RevenueSum:       p.RevenueSum,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"doctors": out})
}

func periodParam(r *http.Request) string {
	period := r.URL.Query().Get("period")
	if period == "" {
		return "month"
	}
	return period
}
