package receipt

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type contextKey struct{}

// userIDKey holds the authenticated user ID in the request context
var userIDKey = contextKey{}

// DefaultScanTimeout bounds one extraction round trip
const DefaultScanTimeout = 5 * time.Minute

// Server handles HTTP requests for receipts
type Server struct {
	service     *Service
	router      chi.Router
	httpServer  *http.Server
	scanTimeout time.Duration
}

// NewServer creates a new Server
func NewServer(service *Service, scanTimeout time.Duration) *Server {
	if scanTimeout <= 0 {
		scanTimeout = DefaultScanTimeout
	}
	s := &Server{
		service:     service,
		router:      chi.NewRouter(),
		scanTimeout: scanTimeout,
	}
	s.registerRoutes()
	return s
}

// registerRoutes registers all routes on the server's router
func (s *Server) registerRoutes() {
	s.router.Use(middleware.RequestID, middleware.RealIP, logRequests, middleware.Recoverer, corsMiddleware)

	s.router.Get("/", s.handleIndex)
	s.router.Post("/login", s.handleLogin)
	s.router.Get("/uploads/{name}", s.handleGetUpload)

	s.router.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/api/status", s.handleStatus)
		r.Post("/upload", s.handleUpload)
	})
}

// requireAuth rejects requests without a valid bearer token and stores the user ID in the context
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.service.Authenticate(r.Header.Get("Authorization"))
		if err != nil {
			writeAuthError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func userIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// corsMiddleware adds CORS headers to responses and answers preflight requests
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// logRequests writes one structured log line per request
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Info("Request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight uploads to finish
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
