// Package handlers exposes the clinic HTTP API: patients, doctors,
// appointments, billing, telemedicine, reviews, sub-admins, and uploads.
// The gateway authenticates requests and forwards the caller's identity in
// X-User-Id, X-Profile-Id, and X-Role headers.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/clinicore/clinicore/services/clinic-service/internal/model"
	"github.com/clinicore/clinicore/services/clinic-service/internal/storage"
)

// Role values stamped by the gateway.
const (
	RolePatient  = "patient"
	RoleDoctor   = "doctor"
	RoleAdmin    = "admin"
	RoleSubAdmin = "subadmin"
)

var (
	errMissingNameEmail   = errors.New("first_name, last_name, and email are required")
	errBadDateOfBirth     = errors.New("date_of_birth must be YYYY-MM-DD")
	errNegativeFee        = errors.New("consultation_fee must not be negative")
	errMissingAppointment = errors.New("appointment_id required")
	errNegativeAmounts    = errors.New("amount and tax must not be negative")
	errPatientMismatch    = errors.New("patient_id does not match appointment")
	errBadDueDate         = errors.New("due_date must be YYYY-MM-DD")
)

type identity struct {
	UserID    string
	ProfileID string
	Role      string
}

func callerIdentity(r *http.Request) identity {
	return identity{
		UserID:    strings.TrimSpace(r.Header.Get("X-User-Id")),
		ProfileID: strings.TrimSpace(r.Header.Get("X-Profile-Id")),
		Role:      strings.TrimSpace(r.Header.Get("X-Role")),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// AccessChecker answers "may this caller perform this management action".
// Admins may do anything; sub-admins are checked against their stored
// permission set.
type AccessChecker struct {
	subAdmins *storage.SubAdminRepository
}

func NewAccessChecker(subAdmins *storage.SubAdminRepository) *AccessChecker {
	return &AccessChecker{subAdmins: subAdmins}
}

func (a *AccessChecker) canManage(ctx context.Context, id identity, perm func(model.Permissions) bool) (bool, error) {
	switch id.Role {
	case RoleAdmin:
		return true, nil
	case RoleSubAdmin:
		sa, err := a.subAdmins.GetByUser(ctx, id.UserID)
		if err != nil {
			if storage.IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		return perm(sa.Permissions), nil
	}
	return false, nil
}

// requireManage enforces a management permission and writes the error
// response itself. Returns false when the handler must stop.
func (a *AccessChecker) requireManage(w http.ResponseWriter, r *http.Request, perm func(model.Permissions) bool) bool {
	ok, err := a.canManage(r.Context(), callerIdentity(r), perm)
	if err != nil {
		http.Error(w, "permission check failed", http.StatusInternalServerError)
		return false
	}
	if !ok {
		http.Error(w, "forbidden", http.StatusForbidden)
		return false
	}
	return true
}
