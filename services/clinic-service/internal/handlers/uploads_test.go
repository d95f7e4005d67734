package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/clinicore/clinicore/services/clinic-service/internal/uploads"
)

func newTestUploadHandler(t *testing.T) *UploadHandler {
	t.Helper()
	signer := uploads.NewSigner("test-secret", time.Hour)
	store := uploads.NewStore(t.TempDir())
	logger := slog.New(slog.DiscardHandler)
	return NewUploadHandler(signer, store, logger)
}

func signRequest(role, userID string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/uploads/sign",
		strings.NewReader(`{"filename":"report.pdf","category":"lab-report"}`))
	r.Header.Set("X-User-Id", userID)
	r.Header.Set("X-Role", role)
	return r
}

func TestUploadSignRejectsPatients(t *testing.T) {
	h := newTestUploadHandler(t)
	w := httptest.NewRecorder()
	h.Sign(w, signRequest(RolePatient, "user-1"))
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestUploadSignRejectsUnknownCategory(t *testing.T) {
	h := newTestUploadHandler(t)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/uploads/sign",
		strings.NewReader(`{"filename":"report.pdf","category":"selfie"}`))
	r.Header.Set("X-User-Id", "user-1")
	r.Header.Set("X-Role", RoleDoctor)
	w := httptest.NewRecorder()
	h.Sign(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestUploadSignThenPut(t *testing.T) {
	h := newTestUploadHandler(t)

	w := httptest.NewRecorder()
	h.Sign(w, signRequest(RoleDoctor, "user-1"))
	if w.Code != http.StatusOK {
		t.Fatalf("sign status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Key       string `json:"key"`
		UploadURL string `json:"upload_url"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode sign response: %v", err)
	}
	u, err := url.Parse(resp.UploadURL)
	if err != nil {
		t.Fatal(err)
	}

	put := httptest.NewRequest(http.MethodPut,
		"/api/v1/uploads/"+resp.Key+"?"+u.RawQuery, strings.NewReader("pdf-bytes"))
	put.SetPathValue("key", resp.Key)
	pw := httptest.NewRecorder()
	h.Put(pw, put)
	if pw.Code != http.StatusCreated {
		t.Fatalf("put status = %d, body %s", pw.Code, pw.Body.String())
	}
}

func TestUploadPutRejectsBadSignature(t *testing.T) {
	h := newTestUploadHandler(t)

	put := httptest.NewRequest(http.MethodPut,
		"/api/v1/uploads/user-1/1-x.pdf?expires=9999999999&signature=bogus", strings.NewReader("x"))
	put.SetPathValue("key", "user-1/1-x.pdf")
	w := httptest.NewRecorder()
	h.Put(w, put)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}
