package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/lifevaluable/brewflow/internal/config"
	"github.com/lifevaluable/brewflow/internal/event"
	"github.com/lifevaluable/brewflow/internal/metrics"
	"github.com/lifevaluable/brewflow/internal/notification"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	log.Logger = log.With().Str("service", "notification-service").Logger()

	log.Info().Msg("Notification service starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New("notification_service")

	notifySvc := notification.NewService(notification.NewLogSender())

	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "notification-service"
	}

	kafkaClient := event.NewClient(cfg.Kafka.Brokers)

	orderConsumer := event.NewConsumer(
		kafkaClient.NewReader(cfg.Kafka.OrderEventsTopic, groupID),
		func(ctx context.Context, msg kafka.Message) error {
			var evt event.OrderCreatedEvent
			if err := json.Unmarshal(msg.Value, &evt); err != nil {
				return err
			}
			return notifySvc.NotifyOrderCreated(ctx, evt)
		},
		m,
	)
	defer orderConsumer.Close()

	paymentConsumer := event.NewConsumer(
		kafkaClient.NewReader(cfg.Kafka.PaymentEventsTopic, groupID),
		func(ctx context.Context, msg kafka.Message) error {
			var evt event.PaymentProcessedEvent
			if err := json.Unmarshal(msg.Value, &evt); err != nil {
				return err
			}
			return notifySvc.NotifyPaymentProcessed(ctx, evt)
		},
		m,
	)
	defer paymentConsumer.Close()

	go func() {
		if err := orderConsumer.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Order event consumer stopped")
		}
	}()
	go func() {
		if err := paymentConsumer.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Payment event consumer stopped")
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("Shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Shutdown failed")
	}
	log.Info().Msg("Server stopped")
}
