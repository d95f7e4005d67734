package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/clinicore/clinicore/libs/outbox"
	"github.com/clinicore/clinicore/services/clinic-service/internal/model"
	"github.com/clinicore/clinicore/services/clinic-service/internal/storage"
)

type StripeWebhookHandler struct {
	repo      *storage.BillRepository
	outbox    *outbox.Repository
	logger    *slog.Logger
	secret    string
	tolerance time.Duration
}

func NewStripeWebhookHandler(repo *storage.BillRepository, outboxRepo *outbox.Repository, logger *slog.Logger, secret string, toleranceSeconds int) *StripeWebhookHandler {
	if toleranceSeconds <= 0 {
		toleranceSeconds = 300
	}
	return &StripeWebhookHandler{
		repo:      repo,
		outbox:    outboxRepo,
		logger:    logger,
		secret:    strings.TrimSpace(secret),
		tolerance: time.Duration(toleranceSeconds) * time.Second,
	}
}

// ServeHTTP handles Stripe webhooks (no JWT auth; signature verification is
// the auth). Gateway exposes this path publicly.
func (h *StripeWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.secret == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MiB hard cap
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.secret, h.tolerance)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	evtType := string(evt.Type)
	h.logger.Info("billing provider event received",
		"provider", "stripe",
		"provider_event_id", evt.ID,
		"event_type", evtType,
	)

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Idempotency: ignore replayed Stripe events.
	if err := h.repo.InsertProviderEvent(ctx, tx, storage.ProviderEvent{
		Provider:        "stripe",
		ProviderEventID: evt.ID,
		EventType:       evtType,
		Payload:         body,
	}); err != nil {
		if errors.Is(err, storage.ErrDuplicateProviderEvent) {
			h.logger.Info("billing provider event duplicate ignored", "provider", "stripe", "provider_event_id", evt.ID)
			writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
			_ = tx.Commit(ctx)
			return
		}
		http.Error(w, "failed to record provider event", http.StatusInternalServerError)
		return
	}

	switch evtType {
	case "payment_intent.succeeded":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil {
			h.logger.Error("stripe: invalid payment intent payload", "err", err)
			break
		}
		if err := h.applyPaymentIntent(r, tx, intent); err != nil {
			http.Error(w, "failed to apply payment", http.StatusInternalServerError)
			return
		}

	case "payment_intent.payment_failed":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil {
			h.logger.Error("stripe: invalid payment intent payload", "err", err)
			break
		}
		billID := strings.TrimSpace(intent.Metadata["bill_id"])
		if billID == "" {
			h.logger.Warn("stripe: missing bill_id metadata on payment intent")
			break
		}
		if _, err := h.repo.MarkStatus(ctx, tx, billID, model.BillFailed, "stripe", intent.ID, nil); err != nil {
			if !storage.IsNotFound(err) {
				http.Error(w, "failed to record failed payment", http.StatusInternalServerError)
				return
			}
			h.logger.Warn("stripe: payment failure for unknown bill", "bill_id", billID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *StripeWebhookHandler) applyPaymentIntent(r *http.Request, tx pgx.Tx, intent stripe.PaymentIntent) error {
	ctx := r.Context()
	billID := strings.TrimSpace(intent.Metadata["bill_id"])
	if billID == "" {
		h.logger.Warn("stripe: missing bill_id metadata on payment intent", "payment_intent", intent.ID)
		return nil
	}

	bill, err := h.repo.GetForUpdate(ctx, tx, billID)
	if err != nil {
		if storage.IsNotFound(err) {
			h.logger.Warn("stripe: payment for unknown bill", "bill_id", billID, "payment_intent", intent.ID)
			return nil
		}
		return err
	}
	if bill.Status == model.BillPaid {
		return nil
	}

	paidAt, err := h.repo.MarkStatus(ctx, tx, bill.ID, model.BillPaid, "stripe", intent.ID, nil)
	if err != nil {
		return err
	}

	evtPayload, err := json.Marshal(map[string]any{
		"bill_id":           bill.ID,
		"appointment_id":    bill.AppointmentID,
		"patient_id":        bill.PatientID,
		"total_amount":      bill.TotalCents,
		"payment_reference": intent.ID,
		"paid_at":           paidAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return h.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "bill",
		AggregateID:   bill.ID,
		EventType:     "clinic.bill.paid.v1",
		Payload:       evtPayload,
	})
}
