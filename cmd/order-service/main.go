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

	"github.com/lifevaluable/brewflow/internal/cart"
	"github.com/lifevaluable/brewflow/internal/config"
	"github.com/lifevaluable/brewflow/internal/event"
	"github.com/lifevaluable/brewflow/internal/handler"
	"github.com/lifevaluable/brewflow/internal/inventory"
	"github.com/lifevaluable/brewflow/internal/metrics"
	"github.com/lifevaluable/brewflow/internal/order"
	"github.com/lifevaluable/brewflow/internal/postgres"
	"github.com/lifevaluable/brewflow/internal/transport"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	log.Logger = log.With().Str("service", "order-service").Logger()

	log.Info().Msg("Order service starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if err := cfg.Postgres.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pg.Close()

	if err := pg.ApplyMigrations(cfg.Postgres); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	m := metrics.New("order_service")

	kafkaClient := event.NewClient(cfg.Kafka.Brokers)
	publisher := event.NewPublisher(kafkaClient.NewWriter(cfg.Kafka.OrderEventsTopic), m)
	defer publisher.Close()

	productRepo := inventory.NewRepository(pg.Pool)
	catalog := inventory.NewCatalog(productRepo, inventory.NewCache())
	ledger := inventory.NewLedger()

	cartRepo := cart.NewRepository(pg.Pool)
	cartSvc := cart.NewService(cartRepo, productRepo)

	orderRepo := order.NewRepository(pg.Pool)
	orderSvc := order.NewService(pg.Pool, orderRepo, cartRepo, ledger, catalog, publisher, m)

	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "order-service"
	}
	consumer := event.NewConsumer(
		kafkaClient.NewReader(cfg.Kafka.PaymentEventsTopic, groupID),
		func(ctx context.Context, msg kafka.Message) error {
			var evt event.PaymentProcessedEvent
			if err := json.Unmarshal(msg.Value, &evt); err != nil {
				return err
			}
			return orderSvc.HandlePaymentOutcome(ctx, evt)
		},
		m,
	)
	defer consumer.Close()

	go func() {
		if err := consumer.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Payment event consumer stopped")
		}
	}()

	router := transport.NewRouter(
		handler.NewOrderHandler(orderSvc),
		handler.NewCartHandler(cartSvc),
		handler.NewProductHandler(catalog),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
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
