package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/clinicore/services/clinic-service/internal/model"
	"github.com/clinicore/clinicore/services/clinic-service/internal/storage"
	"github.com/clinicore/clinicore/services/clinic-service/internal/videoroom"
)

type SessionHandler struct {
	repo         *storage.SessionRepository
	appointments *storage.AppointmentRepository
	rooms        videoroom.Provider
	access       *AccessChecker
	logger       *slog.Logger
	// Base URL for locally built join links when no room provider is configured.
	localRoomBase string
}

func NewSessionHandler(repo *storage.SessionRepository, appointments *storage.AppointmentRepository, rooms videoroom.Provider, access *AccessChecker, logger *slog.Logger, localRoomBase string) *SessionHandler {
	if localRoomBase == "" {
		localRoomBase = "https://meet.clinicore.local/room"
	}
	return &SessionHandler{
		repo:          repo,
		appointments:  appointments,
		rooms:         rooms,
		access:        access,
		logger:        logger,
		localRoomBase: localRoomBase,
	}
}

type createSessionRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type endSessionRequest struct {
	Notes        string `json:"notes,omitempty"`
	RecordingURL string `json:"recording_url,omitempty"`
}

type sessionResponse struct {
	ID              string `json:"id"`
	AppointmentID   string `json:"appointment_id"`
	PatientID       string `json:"patient_id"`
	DoctorID        string `json:"doctor_id"`
	RoomID          string `json:"room_id"`
	Status          string `json:"status"`
	StartedAt       string `json:"started_at,omitempty"`
	EndedAt         string `json:"ended_at,omitempty"`
	DurationMinutes int    `json:"duration_minutes"`
	RecordingURL    string `json:"recording_url,omitempty"`
	Notes           string `json:"notes,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func sessionToResponse(s model.TelemedicineSession) sessionResponse {
	resp := sessionResponse{
		ID:              s.ID,
		AppointmentID:   s.AppointmentID,
		PatientID:       s.PatientID,
		DoctorID:        s.DoctorID,
		RoomID:          s.RoomID,
		Status:          s.Status,
		DurationMinutes: s.DurationMinutes,
		RecordingURL:    s.RecordingURL,
		Notes:           s.Notes,
		CreatedAt:       s.CreatedAt.UTC().Format(time.RFC3339),
	}
	if s.StartedAt != nil {
		resp.StartedAt = s.StartedAt.UTC().Format(time.RFC3339)
	}
	if s.EndedAt != nil {
		resp.EndedAt = s.EndedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func (h *SessionHandler) Collection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.list(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SessionHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
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
	if appt.Type != model.TypeTelemedicine {
		http.Error(w, "appointment is not a telemedicine appointment", http.StatusBadRequest)
		return
	}
	if appt.Status == model.StatusCancelled {
		http.Error(w, "appointment is cancelled", http.StatusConflict)
		return
	}
	if !h.callerMayAccess(w, r, appt.PatientID, appt.DoctorID) {
		return
	}

	session := &model.TelemedicineSession{
		AppointmentID: appt.ID,
		PatientID:     appt.PatientID,
		DoctorID:      appt.DoctorID,
		RoomID:        uuid.NewString(),
		Status:        model.SessionScheduled,
	}
	if h.rooms != nil {
		room, err := h.rooms.CreateRoom(ctx, session.RoomID)
		if err != nil {
			h.logger.Error("create video room", "err", err)
			http.Error(w, "video room provider unavailable", http.StatusServiceUnavailable)
			return
		}
		session.RoomID = room.RoomID
	}

	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id, err := h.repo.Create(ctx, tx, session)
	if err != nil {
		if storage.IsDuplicate(err) {
			http.Error(w, "session already exists for this appointment", http.StatusConflict)
			return
		}
		h.logger.Error("create session", "err", err)
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	session.ID = id
	session.CreatedAt = time.Now().UTC()
	writeJSON(w, http.StatusCreated, sessionToResponse(*session))
}

func (h *SessionHandler) callerMayAccess(w http.ResponseWriter, r *http.Request, patientID, doctorID string) bool {
	caller := callerIdentity(r)
	switch caller.Role {
	case RolePatient:
		if caller.ProfileID != patientID {
			http.Error(w, "forbidden", http.StatusForbidden)
			return false
		}
	case RoleDoctor:
		if caller.ProfileID != doctorID {
			http.Error(w, "forbidden", http.StatusForbidden)
			return false
		}
	default:
		return h.access.requireManage(w, r, func(p model.Permissions) bool { return p.ManageTelemedicine })
	}
	return true
}

func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	session, err := h.repo.GetForUpdate(ctx, tx, r.PathValue("id"))
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		h.logger.Error("load session", "err", err)
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		return
	}
	if !h.callerMayAccess(w, r, session.PatientID, session.DoctorID) {
		return
	}
	if session.Status == model.SessionCompleted || session.Status == model.SessionCancelled {
		http.Error(w, "session already ended", http.StatusConflict)
		return
	}

	startedAt, err := h.repo.MarkActive(ctx, tx, session.ID)
	if err != nil {
		h.logger.Error("mark session active", "err", err)
		http.Error(w, "failed to join session", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	caller := callerIdentity(r)
	joinURL := fmt.Sprintf("%s/%s", h.localRoomBase, session.RoomID)
	if h.rooms != nil {
		room, err := h.rooms.IssueJoinToken(ctx, session.RoomID, caller.ProfileID, caller.Role)
		if err != nil {
			h.logger.Error("issue join token", "err", err)
			http.Error(w, "video room provider unavailable", http.StatusServiceUnavailable)
			return
		}
		joinURL = fmt.Sprintf("%s/%s?token=%s", h.localRoomBase, room.RoomID, room.JoinToken)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": session.ID,
		"room_id":    session.RoomID,
		"join_url":   joinURL,
		"status":     model.SessionActive,
		"started_at": startedAt.UTC().Format(time.RFC3339),
	})
}

func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req endSessionRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	session, err := h.repo.GetForUpdate(ctx, tx, r.PathValue("id"))
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		h.logger.Error("load session", "err", err)
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		return
	}
	if !h.callerMayAccess(w, r, session.PatientID, session.DoctorID) {
		return
	}
	if session.Status == model.SessionCompleted {
		writeJSON(w, http.StatusOK, sessionToResponse(session))
		return
	}
	if session.Status == model.SessionCancelled {
		http.Error(w, "session is cancelled", http.StatusConflict)
		return
	}

	ended, err := h.repo.MarkEnded(ctx, tx, session.ID, req.Notes, req.RecordingURL)
	if err != nil {
		h.logger.Error("end session", "err", err)
		http.Error(w, "failed to end session", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	if h.rooms != nil {
		if err := h.rooms.CloseRoom(ctx, session.RoomID); err != nil {
			h.logger.Warn("close video room", "err", err, "room_id", session.RoomID)
		}
	}
	writeJSON(w, http.StatusOK, sessionToResponse(ended))
}

func (h *SessionHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	filter := storage.SessionFilter{
		PatientID: strings.TrimSpace(q.Get("patient_id")),
		DoctorID:  strings.TrimSpace(q.Get("doctor_id")),
		Status:    strings.TrimSpace(q.Get("status")),
		Limit:     limit,
	}

	caller := callerIdentity(r)
	switch caller.Role {
	case RolePatient:
		filter.PatientID = caller.ProfileID
	case RoleDoctor:
		filter.DoctorID = caller.ProfileID
	default:
		if !h.access.requireManage(w, r, func(p model.Permissions) bool { return p.ManageTelemedicine }) {
			return
		}
	}

	sessions, err := h.repo.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list sessions", "err", err)
		http.Error(w, "failed to list sessions", http.StatusInternalServerError)
		return
	}

	items := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, sessionToResponse(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": items})
}
