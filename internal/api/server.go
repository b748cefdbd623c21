// Package api serves the registration workflow, user status lookups, the job
// dashboard endpoints and the health report over HTTP.
package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jdziat/docpipeline/internal/docs"
	"github.com/jdziat/docpipeline/pkg/core"
)

// UserStore is the part of the domain store the registration flow uses.
type UserStore interface {
	EmailExists(ctx context.Context, email string) (bool, error)
	CreateUser(ctx context.Context, user *docs.User, doc *docs.Document) error
	GetUser(ctx context.Context, id string) (*docs.User, error)
}

// Uploader stores uploaded files.
type Uploader interface {
	Save(ctx context.Context, name string, r io.Reader) (storedName, path string, err error)
	Delete(ctx context.Context, path string) error
}

// JobReader exposes job state to the dashboard endpoints.
type JobReader interface {
	GetJob(ctx context.Context, id string) (*core.Job, error)
	Stats(ctx context.Context) (map[core.State]int64, error)
}

// Config holds server settings.
type Config struct {
	ConversionDelay time.Duration
	MaxUploadBytes  int64
	HealthTimeout   time.Duration
	Logger          *slog.Logger
}

// Option configures a Server.
type Option interface {
	applyServer(*Server)
}

type optionFunc func(*Server)

func (f optionFunc) applyServer(s *Server) { f(s) }

// ConversionDelay sets how long after registration conversion starts.
func ConversionDelay(d time.Duration) Option {
	return optionFunc(func(s *Server) {
		if d >= 0 {
			s.config.ConversionDelay = d
		}
	})
}

// MaxUploadBytes bounds the size of a registration request.
func MaxUploadBytes(n int64) Option {
	return optionFunc(func(s *Server) {
		if n > 0 {
			s.config.MaxUploadBytes = n
		}
	})
}

// HealthTimeout bounds the whole health report.
func HealthTimeout(d time.Duration) Option {
	return optionFunc(func(s *Server) {
		if d > 0 {
			s.config.HealthTimeout = d
		}
	})
}

// Logger sets the logger.
func Logger(l *slog.Logger) Option {
	return optionFunc(func(s *Server) {
		if l != nil {
			s.config.Logger = l
		}
	})
}

// WithHealthCheck adds a check to the health report.
func WithHealthCheck(c Check) Option {
	return optionFunc(func(s *Server) {
		s.checks = append(s.checks, c)
	})
}

// Server handles the HTTP API.
type Server struct {
	users    UserStore
	uploads  Uploader
	enqueuer core.Enqueuer
	jobs     JobReader
	checks   []Check
	config   Config
}

// NewServer creates a server.
func NewServer(users UserStore, uploads Uploader, enqueuer core.Enqueuer, jobs JobReader, opts ...Option) *Server {
	s := &Server{
		users:    users,
		uploads:  uploads,
		enqueuer: enqueuer,
		jobs:     jobs,
		config: Config{
			ConversionDelay: 30 * time.Second,
			MaxUploadBytes:  10 << 20,
			HealthTimeout:   5 * time.Second,
			Logger:          slog.Default(),
		},
	}
	for _, opt := range opts {
		opt.applyServer(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/users/register", s.handleRegister)
	mux.HandleFunc("GET /api/users/{id}/status", s.handleUserStatus)
	mux.HandleFunc("GET /api/jobs/stats", s.handleJobStats)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /health", s.handleHealth)
	return s.logRequests(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.config.Logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type messageResponse struct {
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageResponse{Message: msg})
}
