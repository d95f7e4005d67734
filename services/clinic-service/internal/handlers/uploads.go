package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/clinicore/clinicore/services/clinic-service/internal/uploads"
)

// Document categories accepted by the sign endpoint.
var uploadCategories = map[string]bool{
	"lab-report":     true,
	"clinical-image": true,
	"consent-form":   true,
	"prescription":   true,
	"other":          true,
}

type UploadHandler struct {
	signer *uploads.Signer
	store  *uploads.Store
	logger *slog.Logger
}

func NewUploadHandler(signer *uploads.Signer, store *uploads.Store, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{signer: signer, store: store, logger: logger}
}

type signUploadRequest struct {
	Filename string `json:"filename"`
	Category string `json:"category"`
}

// Sign issues a signed upload URL. Patients may not upload clinical
// documents.
func (h *UploadHandler) Sign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	caller := callerIdentity(r)
	if caller.Role != RoleDoctor && caller.Role != RoleAdmin {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if caller.UserID == "" {
		http.Error(w, "missing caller identity", http.StatusBadRequest)
		return
	}

	var req signUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Filename = strings.TrimSpace(req.Filename)
	if req.Filename == "" {
		http.Error(w, "filename required", http.StatusBadRequest)
		return
	}
	if !uploadCategories[req.Category] {
		http.Error(w, "invalid category", http.StatusBadRequest)
		return
	}

	signed := h.signer.Sign(caller.UserID, req.Filename)
	writeJSON(w, http.StatusOK, map[string]any{
		"key":        signed.Key,
		"upload_url": signed.URL,
		"expires_at": signed.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// Put receives the object body on a previously signed URL. The signature is
// the auth; the gateway forwards this path without a JWT check.
func (h *UploadHandler) Put(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key := r.PathValue("key")
	if key == "" {
		http.Error(w, "missing object key", http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	if err := h.signer.Verify(key, q.Get("expires"), q.Get("signature")); err != nil {
		if errors.Is(err, uploads.ErrExpired) {
			http.Error(w, "upload url expired", http.StatusForbidden)
			return
		}
		http.Error(w, "invalid upload signature", http.StatusForbidden)
		return
	}

	n, err := h.store.Put(key, r.Body)
	if err != nil {
		h.logger.Error("store upload", "err", err, "key", key)
		http.Error(w, "failed to store upload", http.StatusInternalServerError)
		return
	}

	h.logger.Info("upload stored", "key", key, "bytes", n)
	writeJSON(w, http.StatusCreated, map[string]any{"key": key, "bytes": n})
}
