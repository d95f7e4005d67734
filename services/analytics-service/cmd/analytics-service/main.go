package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/clinicore/clinicore/libs/config"
	"github.com/clinicore/clinicore/libs/db"
	"github.com/clinicore/clinicore/libs/httpx"
	"github.com/clinicore/clinicore/libs/kafkax"
	otelx "github.com/clinicore/clinicore/libs/otel"
	"github.com/clinicore/clinicore/libs/runtime"
	"github.com/clinicore/clinicore/services/analytics-service/internal/handlers"
	"github.com/clinicore/clinicore/services/analytics-service/internal/storage"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "analytics-service")
	port, err := config.Port("PORT", "8086")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	metricsRepo := storage.NewRepository(pool)
	inboxRepo := kafkax.NewInbox(pool)
	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", "analytics-service")

	consume := func(topic string, handler kafkax.Handler) {
		c := kafkax.NewConsumer(logger, inboxRepo, kafkax.ConsumerConfig{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   topic,
		}, handler)
		go c.Run(ctx)
	}

	consume("notification.sent.v1", func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			SubjectType string `json:"subject_type"`
			SubjectID   string `json:"subject_id"`
			PatientID   string `json:"patient_id"`
			Channel     string `json:"channel"`
			SentAt      string `json:"sent_at"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid event payload", "err", err)
			return nil
		}
		if payload.SubjectID == "" || payload.Channel == "" || payload.SentAt == "" {
			logger.Error("missing event fields")
			return nil
		}
		if _, err := time.Parse(time.RFC3339, payload.SentAt); err != nil {
			logger.Error("invalid sent_at", "err", err)
			return nil
		}

		_, err := pool.Exec(ctx, `
			INSERT INTO notification_metrics (subject_type, subject_id, patient_id, channel, sent_at, status)
			VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, 'sent')
		`, payload.SubjectType, payload.SubjectID, payload.PatientID, payload.Channel, payload.SentAt)
		if err != nil {
			logger.Error("failed to write metrics", "err", err)
			return err
		}

		if err := bumpNotificationAggregate(ctx, pool, payload.Channel, payload.SentAt, 1, 0); err != nil {
			logger.Error("failed to update daily notification metrics", "err", err)
			return err
		}

		logger.Info("notification metric recorded", "subject_id", payload.SubjectID, "channel", payload.Channel)
		return nil
	})

	consume("notification.failed.v1", func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			SubjectType string `json:"subject_type"`
			SubjectID   string `json:"subject_id"`
			PatientID   string `json:"patient_id"`
			Channel     string `json:"channel"`
			ErrorReason string `json:"error_reason"`
			FailedAt    string `json:"failed_at"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid failed payload", "err", err)
			return nil
		}
		if payload.SubjectID == "" || payload.Channel == "" || payload.ErrorReason == "" || payload.FailedAt == "" {
			logger.Error("missing failed fields")
			return nil
		}
		if _, err := time.Parse(time.RFC3339, payload.FailedAt); err != nil {
			logger.Error("invalid failed_at", "err", err)
			return nil
		}

		_, err := pool.Exec(ctx, `
			INSERT INTO notification_metrics (subject_type, subject_id, patient_id, channel, sent_at, status)
			VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, 'failed')
		`, payload.SubjectType, payload.SubjectID, payload.PatientID, payload.Channel, payload.FailedAt)
		if err != nil {
			logger.Error("failed to write failed metrics", "err", err)
			return err
		}

		if err := bumpNotificationAggregate(ctx, pool, payload.Channel, payload.FailedAt, 0, 1); err != nil {
			logger.Error("failed to update daily notification metrics", "err", err)
			return err
		}

		logger.Info("notification failure recorded", "subject_id", payload.SubjectID, "channel", payload.Channel)
		return nil
	})

	consume("scheduler.reminder.dlq.v1", func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			SubjectType string `json:"subject_type"`
			SubjectID   string `json:"subject_id"`
			PatientID   string `json:"patient_id"`
			Channel     string `json:"channel"`
			Recipient   string `json:"recipient"`
			RemindAt    string `json:"remind_at"`
			ErrorReason string `json:"error_reason"`
			FailedAt    string `json:"failed_at"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid dlq payload", "err", err)
			return nil
		}
		if payload.SubjectID == "" || payload.Channel == "" || payload.Recipient == "" || payload.RemindAt == "" || payload.ErrorReason == "" || payload.FailedAt == "" {
			logger.Error("missing dlq fields")
			return nil
		}
		if _, err := time.Parse(time.RFC3339, payload.FailedAt); err != nil {
			logger.Error("invalid failed_at", "err", err)
			return nil
		}
		remindAt, err := time.Parse(time.RFC3339, payload.RemindAt)
		if err != nil {
			logger.Error("invalid remind_at", "err", err)
			return nil
		}

		_, err = pool.Exec(ctx, `
			INSERT INTO scheduler_dlq_events (subject_type, subject_id, patient_id, channel, recipient, remind_at, error_reason, failed_at)
			VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6, $7, $8)
		`, payload.SubjectType, payload.SubjectID, payload.PatientID, payload.Channel, payload.Recipient, remindAt, payload.ErrorReason, payload.FailedAt)
		if err != nil {
			logger.Error("failed to write dlq event", "err", err)
			return err
		}

		logger.Warn("scheduler dlq recorded", "subject_id", payload.SubjectID, "channel", payload.Channel)
		return nil
	})

	consume("auth.audit.v1", func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			EventType string          `json:"event_type"`
			ActorID   string          `json:"actor_id"`
			Metadata  json.RawMessage `json:"metadata"`
			CreatedAt string          `json:"created_at"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid auth audit payload", "err", err)
			return nil
		}
		if payload.EventType == "" || payload.CreatedAt == "" {
			logger.Error("missing auth audit fields")
			return nil
		}
		if _, err := time.Parse(time.RFC3339, payload.CreatedAt); err != nil {
			logger.Error("invalid auth audit created_at", "err", err)
			return nil
		}

		_, err := pool.Exec(ctx, `
			INSERT INTO security_audit_events (event_type, actor_id, metadata, created_at)
			VALUES ($1, NULLIF($2, ''), $3, $4)
		`, payload.EventType, payload.ActorID, payload.Metadata, payload.CreatedAt)
		if err != nil {
			logger.Error("failed to write security audit event", "err", err)
			return err
		}

		logger.Info("security audit recorded", "event_type", payload.EventType)
		return nil
	})

	handleAppointmentEvent := func(ctx context.Context, msg kafka.Message, kind string) error {
		var payload struct {
			AppointmentID   string `json:"appointment_id"`
			PatientID       string `json:"patient_id"`
			DoctorID        string `json:"doctor_id"`
			AppointmentDate string `json:"appointment_date"`
			CancelledAt     string `json:"cancelled_at"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid appointment payload", "err", err)
			return nil
		}
		if payload.AppointmentID == "" || payload.DoctorID == "" {
			logger.Error("missing appointment fields")
			return nil
		}
		occurredAt := time.Now().UTC()
		if payload.AppointmentDate != "" {
			if t, err := time.Parse(time.RFC3339, payload.AppointmentDate); err == nil {
				occurredAt = t.UTC()
			}
		}
		if kind == "cancelled" && payload.CancelledAt != "" {
			if t, err := time.Parse(time.RFC3339, payload.CancelledAt); err == nil {
				occurredAt = t.UTC()
			}
		}

		meta := kafkax.ExtractEventMeta(msg)

		tx, err := pool.Begin(ctx)
		if err != nil {
			logger.Error("db begin failed", "err", err)
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		tag, err := tx.Exec(ctx, `
			INSERT INTO appointment_events (event_id, event_type, appointment_id, patient_id, doctor_id, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (event_id) DO NOTHING
		`, meta.EventID, meta.EventType, payload.AppointmentID, payload.PatientID, payload.DoctorID, occurredAt)
		if err != nil {
			logger.Error("failed to insert appointment event", "err", err)
			return err
		}
		if tag.RowsAffected() == 0 {
			_ = tx.Commit(ctx)
			return nil
		}

		scheduledInc := 0
		cancelledInc := 0
		if kind == "scheduled" {
			scheduledInc = 1
		} else {
			cancelledInc = 1
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO daily_appointment_metrics (day, scheduled_count, cancelled_count)
			VALUES ($1::date, $2, $3)
			ON CONFLICT (day)
			DO UPDATE SET scheduled_count = daily_appointment_metrics.scheduled_count + EXCLUDED.scheduled_count,
			              cancelled_count = daily_appointment_metrics.cancelled_count + EXCLUDED.cancelled_count,
			              updated_at = now()
		`, occurredAt, scheduledInc, cancelledInc); err != nil {
			logger.Error("failed to update daily metrics", "err", err)
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			logger.Error("failed to commit appointment metric", "err", err)
			return err
		}

		logger.Info("appointment metric recorded", "appointment_id", payload.AppointmentID, "event_type", meta.EventType)
		return nil
	}

	consume("clinic.appointment.scheduled.v1", func(ctx context.Context, msg kafka.Message) error {
		return handleAppointmentEvent(ctx, msg, "scheduled")
	})
	consume("clinic.appointment.cancelled.v1", func(ctx context.Context, msg kafka.Message) error {
		return handleAppointmentEvent(ctx, msg, "cancelled")
	})

	consume("clinic.bill.paid.v1", func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			BillID      string `json:"bill_id"`
			PatientID   string `json:"patient_id"`
			TotalAmount any    `json:"total_amount"`
			PaidAt      string `json:"paid_at"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid bill paid payload", "err", err)
			return nil
		}
		if payload.BillID == "" || payload.PaidAt == "" {
			logger.Error("missing bill paid fields")
			return nil
		}
		paidAt, err := time.Parse(time.RFC3339, payload.PaidAt)
		if err != nil {
			logger.Error("invalid paid_at", "err", err)
			return nil
		}

		cents, ok := amountToCents(payload.TotalAmount)
		if !ok {
			logger.Error("invalid total_amount", "bill_id", payload.BillID)
			return nil
		}

		_, err = pool.Exec(ctx, `
			INSERT INTO daily_revenue_metrics (day, paid_total_cents, paid_count)
			VALUES ($1::date, $2, 1)
			ON CONFLICT (day)
			DO UPDATE SET paid_total_cents = daily_revenue_metrics.paid_total_cents + EXCLUDED.paid_total_cents,
			              paid_count = daily_revenue_metrics.paid_count + 1,
			              updated_at = now()
		`, paidAt.UTC(), cents)
		if err != nil {
			logger.Error("failed to update revenue metrics", "err", err)
			return err
		}

		logger.Info("revenue metric recorded", "bill_id", payload.BillID)
		return nil
	})

	analyticsHandler := handlers.NewAnalyticsHandler(metricsRepo, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.HandleFunc("/api/v1/analytics/dashboard", analyticsHandler.Dashboard)
	mux.HandleFunc("/api/v1/analytics/revenue-trends", analyticsHandler.RevenueTrends)
	mux.HandleFunc("/api/v1/analytics/appointment-trends", analyticsHandler.AppointmentTrends)
	mux.HandleFunc("/api/v1/analytics/doctor-performance", analyticsHandler.DoctorPerformance)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "analytics")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// amountToCents accepts the bill total either as a two-decimal JSON number
// or as integer cents.
func amountToCents(v any) (int64, bool) {
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	cents := int64(f*100 + 0.5)
	if cents < 0 {
		return 0, false
	}
	return cents, true
}

func bumpNotificationAggregate(ctx context.Context, pool *db.Pool, channel, ts string, sentInc, failedInc int) error {
	if channel == "" || ts == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return nil
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO daily_notification_metrics (day, channel, sent_count, failed_count)
		VALUES ($1::date, $2, $3, $4)
		ON CONFLICT (day, channel)
		DO UPDATE SET sent_count = daily_notification_metrics.sent_count + EXCLUDED.sent_count,
		              failed_count = daily_notification_metrics.failed_count + EXCLUDED.failed_count,
		              updated_at = now()
	`, t.UTC(), channel, sentInc, failedInc)
	return err
}
