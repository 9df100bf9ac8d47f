package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"multicurrency-ledger/internal/config"
	"multicurrency-ledger/internal/domain"
	"multicurrency-ledger/internal/errors"
	"multicurrency-ledger/internal/handler"
	"multicurrency-ledger/internal/metrics"
	"multicurrency-ledger/internal/ratelimiter"
	"multicurrency-ledger/internal/repository"
	"multicurrency-ledger/internal/repository/memstore"
	"multicurrency-ledger/internal/service"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
)

// Server represents the HTTP server
type Server struct {
	router  *mux.Router
	server  *http.Server
	db      *sql.DB
	store   domain.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	port    string
}

// NewServer wires the store selected by cfg.StorageDriver, the services and
// the routes. The postgres driver migrates the schema before serving.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var (
		db    *sql.DB
		store domain.Store
	)
	switch cfg.StorageDriver {
	case config.StorageDriverMemory:
		store = memstore.New(logger, cfg.LockTimeout)
		logger.Info("Using in-memory store")
	default:
		var err error
		db, err = openDatabase(cfg, logger)
		if err != nil {
			return nil, err
		}
		store = repository.NewStore(db, logger, cfg.LockTimeout)
	}

	m := metrics.New()

	rateService := service.NewExchangeRateService(store, m, logger)
	accountService := service.NewAccountService(store, logger)
	transactionService := service.NewTransactionService(store, rateService, m, logger)

	accountHandler := handler.NewAccountHandler(accountService)
	transactionHandler := handler.NewTransactionHandler(transactionService, accountService)
	rateHandler := handler.NewExchangeRateHandler(rateService)

	limiter := ratelimiter.New(cfg.RateLimitRPS, cfg.RateLimitBurst, 10*time.Minute)

	router := mux.NewRouter()
	router.Use(loggingMiddleware(logger, m))

	// Mutations are throttled per caller
	limited := func(h http.HandlerFunc) http.Handler {
		return rateLimitMiddleware(limiter)(h)
	}

	router.Handle("/clients", limited(accountHandler.RegisterClient)).Methods("POST")
	router.Handle("/accounts", limited(accountHandler.OpenAccount)).Methods("POST")
	router.Handle("/accounts/ensure", limited(accountHandler.EnsureAccount)).Methods("POST")
	router.Handle("/accounts/{account_id:[0-9]+}", limited(accountHandler.DeactivateAccount)).Methods("DELETE")
	router.Handle("/accounts/{account_id:[0-9]+}/deposit", limited(transactionHandler.Deposit)).Methods("POST")
	router.Handle("/accounts/{account_id:[0-9]+}/withdraw", limited(transactionHandler.Withdraw)).Methods("POST")
	router.Handle("/transfers", limited(transactionHandler.Transfer)).Methods("POST")
	router.Handle("/exchange-rates/{from}/{to}", limited(rateHandler.SetRate)).Methods("PUT")

	router.HandleFunc("/accounts", accountHandler.ListAccounts).Methods("GET")
	router.HandleFunc("/accounts/{account_id:[0-9]+}", accountHandler.GetAccount).Methods("GET")
	router.HandleFunc("/accounts/{account_id:[0-9]+}/transactions", accountHandler.History).Methods("GET")
	router.HandleFunc("/transactions/{transaction_id:[0-9]+}", transactionHandler.GetTransaction).Methods("GET")
	router.HandleFunc("/operations/{reference}", transactionHandler.Operation).Methods("GET")
	router.HandleFunc("/exchange-rates", rateHandler.ListRates).Methods("GET")
	router.HandleFunc("/exchange-rates/{from}/{to}", rateHandler.GetRate).Methods("GET")

	router.Handle("/metrics", m.Handler()).Methods("GET")

	// Health check
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": "database unavailable"})
				return
			}
		}

		json.NewEncoder(w).Encode(map[string]string{
			"status":    "healthy",
			"storage":   cfg.StorageDriver,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}).Methods("GET")

	return &Server{
		router:  router,
		db:      db,
		store:   store,
		metrics: m,
		logger:  logger,
	}, nil
}

func openDatabase(cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	if err := repository.RunMigrations(cfg.GetDBConnectionString(), logger); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.GetDBConnectionString())
	if err != nil {
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Successfully connected to database")
	return db, nil
}

// loggingMiddleware gives every request an ID and a request-scoped logger,
// and records the outcome once the handler returns.
func loggingMiddleware(logger *slog.Logger, m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(handler.HeaderRequestID)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(handler.HeaderRequestID, requestID)

			requestLogger := logger.With(
				slog.String("request_id", requestID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)

			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r.WithContext(handler.WithLogger(r.Context(), requestLogger)))

			m.ObserveHTTPRequest(r.Method, ww.statusCode)
			requestLogger.Info("request completed",
				"status", ww.statusCode,
				"duration", time.Since(start),
				"user_agent", r.UserAgent(),
			)
		})
	}
}

func rateLimitMiddleware(limiter *ratelimiter.CallerLimiter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(callerKey(r), time.Now()) {
				handler.WriteError(w, r, errors.ErrRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// callerKey prefers the client identity header and falls back to the remote
// host.
func callerKey(r *http.Request) string {
	if id := r.Header.Get(handler.HeaderClientID); id != "" {
		return "client:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server on the specified port
func (s *Server) Start(port string) (string, error) {
	// Create listener first to get actual port
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return "", err
	}

	addr := listener.Addr().(*net.TCPAddr)
	s.port = strconv.Itoa(addr.Port)

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting server", "port", s.port)

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server failed to start", "error", err)
		}
	}()

	return s.port, nil
}

// Stop drains in-flight requests before closing the database.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	if s.db != nil {
		s.db.Close()
	}
	return err
}

// GetPort returns the port the server is listening on
func (s *Server) GetPort() string {
	return s.port
}

// GetBaseURL returns the base URL for the server
func (s *Server) GetBaseURL() string {
	return "http://localhost:" + s.port
}

// GetRouter returns the router for testing purposes
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// GetStore returns the store backing the services.
func (s *Server) GetStore() domain.Store {
	return s.store
}

// StartServer starts the server with the given configuration
func StartServer(cfg *config.Config) (*Server, string, error) {
	var logger *slog.Logger
	switch {
	case cfg.ServerPort == "0":
		// Test environment
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	case cfg.IsProduction:
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	default:
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	server, err := NewServer(cfg, logger)
	if err != nil {
		return nil, "", err
	}

	port, err := server.Start(cfg.ServerPort)
	if err != nil {
		return nil, "", err
	}

	return server, port, nil
}
