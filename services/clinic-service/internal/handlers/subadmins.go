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

// SubAdminHandler manages delegated admin accounts. The gateway restricts
// these routes to the admin role; handlers re-check the stamped header.
type SubAdminHandler struct {
	repo   *storage.SubAdminRepository
	logger *slog.Logger
}

func NewSubAdminHandler(repo *storage.SubAdminRepository, logger *slog.Logger) *SubAdminHandler {
	return &SubAdminHandler{repo: repo, logger: logger}
}

type createSubAdminRequest struct {
	UserID       string            `json:"user_id"`
	FirstName    string            `json:"first_name"`
	LastName     string            `json:"last_name"`
	Email        string            `json:"email"`
	Department   string            `json:"department,omitempty"`
	SubAdminType string            `json:"sub_admin_type"`
	Permissions  model.Permissions `json:"permissions"`
}

type subAdminResponse struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id"`
	FirstName    string            `json:"first_name"`
	LastName     string            `json:"last_name"`
	Email        string            `json:"email"`
	Department   string            `json:"department,omitempty"`
	SubAdminType string            `json:"sub_admin_type"`
	Permissions  model.Permissions `json:"permissions"`
	CreatedAt    string            `json:"created_at"`
}

func subAdminToResponse(sa model.SubAdmin) subAdminResponse {
	return subAdminResponse{
		ID:           sa.ID,
		UserID:       sa.UserID,
		FirstName:    sa.FirstName,
		LastName:     sa.LastName,
		Email:        sa.Email,
		Department:   sa.Department,
		SubAdminType: sa.SubAdminType,
		Permissions:  sa.Permissions,
		CreatedAt:    sa.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if callerIdentity(r).Role != RoleAdmin {
		http.Error(w, "forbidden", http.StatusForbidden)
		return false
	}
	return true
}

func (h *SubAdminHandler) Collection(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.list(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SubAdminHandler) Item(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		h.get(w, r)
	case http.MethodPut:
		h.updatePermissions(w, r)
	case http.MethodDelete:
		h.delete(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SubAdminHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createSubAdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.UserID == "" || req.FirstName == "" || req.LastName == "" || req.Email == "" {
		http.Error(w, "user_id, first_name, last_name, and email are required", http.StatusBadRequest)
		return
	}

	sa := &model.SubAdmin{
		UserID:       req.UserID,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        req.Email,
		Department:   strings.TrimSpace(req.Department),
		SubAdminType: strings.TrimSpace(req.SubAdminType),
		Permissions:  req.Permissions,
	}
	id, err := h.repo.Create(r.Context(), sa)
	if err != nil {
		if storage.IsDuplicate(err) {
			http.Error(w, "sub-admin already exists for this user", http.StatusConflict)
			return
		}
		h.logger.Error("create sub-admin", "err", err)
		http.Error(w, "failed to create sub-admin", http.StatusInternalServerError)
		return
	}
	sa.ID = id
	sa.CreatedAt = time.Now().UTC()
	writeJSON(w, http.StatusCreated, subAdminToResponse(*sa))
}

func (h *SubAdminHandler) get(w http.ResponseWriter, r *http.Request) {
	sa, err := h.repo.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "sub-admin not found", http.StatusNotFound)
			return
		}
		h.logger.Error("get sub-admin", "err", err)
		http.Error(w, "failed to load sub-admin", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, subAdminToResponse(sa))
}

func (h *SubAdminHandler) updatePermissions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Permissions model.Permissions `json:"permissions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	id := r.PathValue("id")
	if err := h.repo.UpdatePermissions(r.Context(), id, req.Permissions); err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "sub-admin not found", http.StatusNotFound)
			return
		}
		h.logger.Error("update sub-admin permissions", "err", err)
		http.Error(w, "failed to update permissions", http.StatusInternalServerError)
		return
	}

	sa, err := h.repo.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("reload sub-admin", "err", err)
		http.Error(w, "failed to load sub-admin", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, subAdminToResponse(sa))
}

func (h *SubAdminHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Delete(r.Context(), r.PathValue("id")); err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "sub-admin not found", http.StatusNotFound)
			return
		}
		h.logger.Error("delete sub-admin", "err", err)
		http.Error(w, "failed to delete sub-admin", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SubAdminHandler) list(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	admins, err := h.repo.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("list sub-admins", "err", err)
		http.Error(w, "failed to list sub-admins", http.StatusInternalServerError)
		return
	}

	items := make([]subAdminResponse, 0, len(admins))
	for _, sa := range admins {
		items = append(items, subAdminToResponse(sa))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sub_admins": items})
}
