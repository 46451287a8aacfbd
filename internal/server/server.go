// Package server wires the store, engine, notification pipeline, and HTTP
// surface together and owns their lifecycle.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vigil/internal/config"
	"vigil/internal/engine"
	"vigil/internal/handlers"
	"vigil/internal/kafka"
	"vigil/internal/logger"
	"vigil/internal/metrics"
	"vigil/internal/middleware"
	"vigil/internal/models"
	"vigil/internal/store"
	"vigil/internal/worker"
)

// Server is the high-level coordinator for ingesting events and publishing
// alert notifications.
type Server struct {
	cfg        *config.Config
	store      store.Store
	storeClose func() error
	engine     *engine.Engine
	producer   *kafka.Producer
	workerPool *worker.Pool
	httpServer *http.Server
	notifyChan chan *models.AlertNotification
	wg         sync.WaitGroup
}

// New constructs a Server with the given config.
func New(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

// Run starts background goroutines and blocks until the context is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	log := logger.WithComponent("server")
	log.Info().Str("environment", s.cfg.App.Environment).Msg("server starting")

	if err := s.initStore(); err != nil {
		log.Error().Err(err).Msg("failed to initialize store")
		return fmt.Errorf("failed to initialize store: %w", err)
	}

	if s.cfg.Kafka.Enabled {
		if err := s.initNotificationPipeline(); err != nil {
			log.Error().Err(err).Msg("failed to initialize notification pipeline")
			return fmt.Errorf("failed to initialize notification pipeline: %w", err)
		}
		s.workerPool.Start()
	}

	s.initEngine()
	s.initHTTPServer()

	// Start HTTP server in background
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Info().Str("addr", s.cfg.Server.Addr).Msg("starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	// Stats reporting goroutine
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reportStats(ctx)
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	return s.shutdown()
}

// initStore selects the configured store backend
func (s *Server) initStore() error {
	log := logger.WithComponent("server")

	switch s.cfg.Store.Backend {
	case "sqlite":
		st, err := store.NewSQLiteStore(s.cfg.Store.SQLitePath)
		if err != nil {
			return err
		}
		s.store = st
		s.storeClose = st.Close
		log.Info().Str("backend", "sqlite").Str("path", s.cfg.Store.SQLitePath).Msg("store initialized")
	default:
		s.store = store.NewMemoryStore()
		log.Info().Str("backend", "memory").Msg("store initialized")
	}
	return nil
}

// initNotificationPipeline initializes the Kafka producer and worker pool
func (s *Server) initNotificationPipeline() error {
	log := logger.WithComponent("server")

	producer, err := kafka.NewProducer(
		s.cfg.Kafka.Brokers,
		s.cfg.Kafka.Topic,
		s.cfg.Kafka.Producer,
	)
	if err != nil {
		return err
	}
	s.producer = producer
	s.notifyChan = make(chan *models.AlertNotification, s.cfg.Kafka.QueueSize)
	metrics.WorkerQueueCapacity.Set(float64(cap(s.notifyChan)))

	s.workerPool = worker.NewPool(worker.Config{
		Publisher:    producer,
		NotifyChan:   s.notifyChan,
		Workers:      s.cfg.Kafka.Producer.Workers,
		BatchSize:    s.cfg.Kafka.Producer.BatchSize,
		BatchTimeout: s.cfg.Kafka.Producer.BatchTimeout,
	})

	log.Info().
		Strs("brokers", s.cfg.Kafka.Brokers).
		Str("topic", s.cfg.Kafka.Topic).
		Msg("notification pipeline initialized")
	return nil
}

// initEngine builds the alert evaluation engine
func (s *Server) initEngine() {
	opts := []engine.Option{}
	if s.notifyChan != nil {
		node, _ := os.Hostname()
		if node == "" {
			node = "unknown"
		}
		opts = append(opts, engine.WithNotifications(s.notifyChan, node))
	}
	s.engine = engine.New(s.store, opts...)
}

// initHTTPServer initializes the HTTP server with handlers
func (s *Server) initHTTPServer() {
	mux := http.NewServeMux()

	eventHandler := handlers.NewEventHandler(handlers.EventConfig{
		Engine:      s.engine,
		MaxBodySize: s.cfg.Server.MaxBodyBytes,
	})

	chain := []func(http.Handler) http.Handler{
		middleware.Recovery,
		middleware.Logging,
	}
	if len(s.cfg.CORS.Origins) > 0 {
		chain = append(chain, middleware.CORS(s.cfg.CORS.Origins, s.cfg.CORS.Methods, s.cfg.CORS.Headers))
	}
	mux.Handle("/event/", middleware.Chain(eventHandler, chain...))

	mux.HandleFunc("/ping", handlers.Ping)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/stats", s.statsHandler)

	s.httpServer = &http.Server{
		Addr:         s.cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
}

// shutdown performs graceful shutdown
func (s *Server) shutdown() error {
	log := logger.WithComponent("server")
	log.Info().Msg("initiating graceful shutdown")

	// 1. Stop accepting new HTTP requests
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info().Msg("stopping HTTP server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Close the notification channel so workers drain and exit
	if s.notifyChan != nil {
		log.Info().Msg("closing notification channel")
		close(s.notifyChan)

		done := make(chan struct{})
		go func() {
			s.workerPool.Stop()
			close(done)
		}()

		select {
		case <-done:
			log.Info().Msg("workers stopped gracefully")
		case <-time.After(15 * time.Second):
			log.Warn().Msg("worker shutdown timeout - forcing exit")
		}
	}

	// 3. Close producer
	if s.producer != nil {
		log.Info().Msg("closing kafka producer")
		if err := s.producer.Close(); err != nil {
			log.Error().Err(err).Msg("producer close error")
		}
	}

	// 4. Close store backend
	if s.storeClose != nil {
		if err := s.storeClose(); err != nil {
			log.Error().Err(err).Msg("store close error")
		}
	}

	s.wg.Wait()

	log.Info().Msg("server stopped gracefully")
	return nil
}

// reportStats periodically logs statistics
func (s *Server) reportStats(ctx context.Context) {
	log := logger.WithComponent("server")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.notifyChan == nil {
				continue
			}
			workerStats := s.workerPool.Stats()
			producerStats := s.producer.Stats()

			metrics.WorkerQueueSize.Set(float64(len(s.notifyChan)))

			log.Info().
				Uint64("worker_processed", workerStats.Processed).
				Uint64("worker_failed", workerStats.Failed).
				Uint64("producer_sent", producerStats.MessagesSent).
				Uint64("producer_failed", producerStats.MessagesFailed).
				Int("queue_size", len(s.notifyChan)).
				Msg("stats")
		}
	}
}

// statsHandler returns current pipeline statistics
func (s *Server) statsHandler(w http.ResponseWriter, _ *http.Request) {
	type channelStats struct {
		Buffered int `json:"buffered"`
		Capacity int `json:"capacity"`
	}
	body := struct {
		Worker   worker.Stats        `json:"worker"`
		Producer kafka.ProducerStats `json:"producer"`
		Channel  channelStats        `json:"channel"`
	}{}

	if s.notifyChan != nil {
		body.Worker = s.workerPool.Stats()
		body.Producer = s.producer.Stats()
		body.Channel = channelStats{Buffered: len(s.notifyChan), Capacity: cap(s.notifyChan)}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}
