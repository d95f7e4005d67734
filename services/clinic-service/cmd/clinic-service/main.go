package main

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/clinicore/clinicore/libs/config"
	"github.com/clinicore/clinicore/libs/db"
	"github.com/clinicore/clinicore/libs/httpx"
	"github.com/clinicore/clinicore/libs/kafkax"
	otelx "github.com/clinicore/clinicore/libs/otel"
	"github.com/clinicore/clinicore/libs/outbox"
	"github.com/clinicore/clinicore/libs/runtime"
	"github.com/clinicore/clinicore/services/clinic-service/internal/handlers"
	"github.com/clinicore/clinicore/services/clinic-service/internal/storage"
	"github.com/clinicore/clinicore/services/clinic-service/internal/uploads"
	"github.com/clinicore/clinicore/services/clinic-service/internal/videoroom"
)

func parseReminderOffsets(raw string, logger *slog.Logger) []time.Duration {
	var offsets []time.Duration
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		mins, err := strconv.Atoi(part)
		if err != nil || mins <= 0 {
			logger.Warn("invalid reminder offset", "value", part)
			continue
		}
		offsets = append(offsets, time.Duration(mins)*time.Minute)
	}
	if len(offsets) == 0 {
		offsets = []time.Duration{24 * time.Hour}
	}
	return offsets
}

func main() {
	service := config.String("SERVICE_NAME", "clinic-service")
	port, err := config.Port("PORT", "8082")
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

	patients := storage.NewPatientRepository(pool)
	doctors := storage.NewDoctorRepository(pool)
	appointments := storage.NewAppointmentRepository(pool)
	bills := storage.NewBillRepository(pool)
	sessions := storage.NewSessionRepository(pool)
	reviews := storage.NewReviewRepository(pool)
	subAdmins := storage.NewSubAdminRepository(pool)

	outboxRepo := outbox.NewRepository(pool)
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	rooms, err := videoroom.NewProvider(config.String("MEDIA_GRPC_ADDR", ""))
	if err != nil {
		logger.Error("video room provider init failed; using local rooms", "err", err)
		rooms = nil
	}

	uploadSecret, err := config.RequiredString("UPLOAD_SIGNING_SECRET")
	if err != nil {
		panic(err)
	}
	signer := uploads.NewSigner(uploadSecret, time.Duration(config.Int("UPLOAD_TTL_MINUTES", 60))*time.Minute)
	store := uploads.NewStore(config.String("UPLOAD_DIR", "/var/lib/clinicore/uploads"))

	offsets := parseReminderOffsets(config.String("REMINDER_OFFSETS_MINUTES", "1440,60"), logger)
	access := handlers.NewAccessChecker(subAdmins)

	patientHandler := handlers.NewPatientHandler(patients, access, logger)
	doctorHandler := handlers.NewDoctorHandler(doctors, reviews, appointments, access, logger)
	appointmentHandler := handlers.NewAppointmentHandler(appointments, patients, doctors, outboxRepo, access, logger, offsets)
	billHandler := handlers.NewBillHandler(bills, appointments, patients, outboxRepo, access, logger)
	stripeHandler := handlers.NewStripeWebhookHandler(bills, outboxRepo, logger,
		config.String("STRIPE_WEBHOOK_SECRET", ""),
		config.Int("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300),
	)
	sessionHandler := handlers.NewSessionHandler(sessions, appointments, rooms, access, logger, config.String("VIDEO_ROOM_BASE_URL", ""))
	reviewHandler := handlers.NewReviewHandler(reviews, appointments, access, logger)
	subAdminHandler := handlers.NewSubAdminHandler(subAdmins, logger)
	uploadHandler := handlers.NewUploadHandler(signer, store, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/api/v1/patients", patientHandler.Collection)
	mux.HandleFunc("/api/v1/patients/{id}", patientHandler.Item)
	mux.HandleFunc("/api/v1/doctors", doctorHandler.Collection)
	mux.HandleFunc("/api/v1/doctors/{id}", doctorHandler.Item)
	mux.HandleFunc("/api/v1/doctors/{id}/rating", doctorHandler.Rating)
	mux.HandleFunc("/api/v1/doctors/{id}/slots", doctorHandler.Slots)
	mux.HandleFunc("/api/v1/appointments", appointmentHandler.Collection)
	mux.HandleFunc("/api/v1/appointments/{id}", appointmentHandler.Item)
	mux.HandleFunc("/api/v1/appointments/{id}/cancel", appointmentHandler.Cancel)
	mux.HandleFunc("/api/v1/bills", billHandler.Collection)
	mux.HandleFunc("/api/v1/bills/{id}", billHandler.Item)
	mux.Handle("/api/v1/billing/webhooks/stripe", stripeHandler)
	mux.HandleFunc("/api/v1/telemedicine/sessions", sessionHandler.Collection)
	mux.HandleFunc("/api/v1/telemedicine/sessions/{id}/join", sessionHandler.Join)
	mux.HandleFunc("/api/v1/telemedicine/sessions/{id}/end", sessionHandler.End)
	mux.HandleFunc("/api/v1/reviews", reviewHandler.Collection)
	mux.HandleFunc("/api/v1/subadmins", subAdminHandler.Collection)
	mux.HandleFunc("/api/v1/subadmins/{id}", subAdminHandler.Item)
	mux.HandleFunc("/api/v1/uploads/sign", uploadHandler.Sign)
	mux.HandleFunc("/api/v1/uploads/{key...}", uploadHandler.Put)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "clinic")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
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
