// Package jobs implements the document pipeline's job handlers: the welcome
// and completion notices, document conversion and the cleanup sweep.
//
// Handlers reference users and documents only by ID; everything else is
// re-read from the domain store when the job runs.
package jobs

import (
	"context"
	"time"

	"github.com/jdziat/docpipeline/internal/docs"
	"github.com/jdziat/docpipeline/internal/notify"
	"github.com/jdziat/docpipeline/pkg/handler"
)

// Job kinds.
const (
	KindWelcome    = "welcome-notice"
	KindConversion = "document-conversion"
	KindCompletion = "completion-notice"
	KindCleanup    = "cleanup-sweep"
)

// UserPayload is the payload of both notice kinds.
type UserPayload struct {
	UserID string `json:"userId"`
}

// DocumentPayload is the payload of a conversion job.
type DocumentPayload struct {
	DocumentID string `json:"documentId"`
}

// CleanupPayload is the payload of a cleanup sweep. It carries no fields;
// the sweep is configured when the handlers are built.
type CleanupPayload struct{}

// DocumentStore is the part of the domain store the handlers use.
type DocumentStore interface {
	GetUser(ctx context.Context, id string) (*docs.User, error)
	GetDocument(ctx context.Context, id string) (*docs.Document, error)
	SetStatus(ctx context.Context, id string, status docs.Status) error
	MarkCompleted(ctx context.Context, id, pdfPath string) (time.Time, error)
	ListUploadedBefore(ctx context.Context, cutoff time.Time, failedOnly bool) ([]*docs.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	ReferencedPaths(ctx context.Context, paths []string) (map[string]bool, error)
}

// FileStore locates and removes stored files.
type FileStore interface {
	PDFPath(storedName string) string
	Delete(ctx context.Context, path string) error
	ListOlderThan(ctx context.Context, threshold time.Time) ([]string, error)
}

// Converter renders a stored document as a PDF.
type Converter interface {
	Convert(ctx context.Context, src, dst string) error
}

// Reaper purges finished jobs from the job store.
type Reaper interface {
	Reap(ctx context.Context, olderThan time.Time) (int64, error)
}

// MissingDocument decides what a conversion job does when its document is gone.
type MissingDocument string

const (
	// MissingDocumentSucceed finishes the job without doing anything.
	MissingDocumentSucceed MissingDocument = "succeed"
	// MissingDocumentFail exhausts the job without retrying.
	MissingDocumentFail MissingDocument = "fail"
)

// CleanupOptions configures the cleanup sweep.
type CleanupOptions struct {
	// Retention is how long documents and finished jobs are kept.
	Retention time.Duration
	// FailedOnly restricts document removal to documents whose conversion failed.
	FailedOnly bool
	// SweepOrphans also removes old upload files no document refers to.
	SweepOrphans bool
}

// DefaultCleanupOptions keeps seven days and removes failed documents only.
func DefaultCleanupOptions() CleanupOptions {
	return CleanupOptions{Retention: 7 * 24 * time.Hour, FailedOnly: true}
}

// Config holds handler settings.
type Config struct {
	MissingDocument   MissingDocument
	Cleanup           CleanupOptions
	ConversionTimeout time.Duration
	NoticeTimeout     time.Duration
	CleanupTimeout    time.Duration
	Now               func() time.Time
}

// Option configures the handlers.
type Option interface {
	applyJobs(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) applyJobs(c *Config) { f(c) }

// OnMissingDocument sets the missing-document policy for conversions.
func OnMissingDocument(p MissingDocument) Option {
	return optionFunc(func(c *Config) {
		c.MissingDocument = p
	})
}

// Cleanup sets the cleanup sweep options.
func Cleanup(o CleanupOptions) Option {
	return optionFunc(func(c *Config) {
		c.Cleanup = o
	})
}

// ConversionTimeout bounds one conversion attempt.
func ConversionTimeout(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.ConversionTimeout = d
	})
}

// NoticeTimeout bounds one notice attempt.
func NoticeTimeout(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.NoticeTimeout = d
	})
}

// CleanupTimeout bounds one cleanup sweep.
func CleanupTimeout(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.CleanupTimeout = d
	})
}

// Clock overrides the time source for the retention cutoff.
func Clock(now func() time.Time) Option {
	return optionFunc(func(c *Config) {
		c.Now = now
	})
}

// Handlers holds the collaborators shared by all job kinds.
type Handlers struct {
	docs      DocumentStore
	files     FileStore
	converter Converter
	notifier  notify.Notifier
	reaper    Reaper
	config    Config
}

// New creates the handlers.
func New(store DocumentStore, files FileStore, converter Converter, notifier notify.Notifier, reaper Reaper, opts ...Option) *Handlers {
	config := Config{
		MissingDocument:   MissingDocumentSucceed,
		Cleanup:           DefaultCleanupOptions(),
		ConversionTimeout: 5 * time.Minute,
		NoticeTimeout:     time.Minute,
		CleanupTimeout:    30 * time.Minute,
		Now:               time.Now,
	}
	for _, opt := range opts {
		opt.applyJobs(&config)
	}
	return &Handlers{
		docs:      store,
		files:     files,
		converter: converter,
		notifier:  notifier,
		reaper:    reaper,
		config:    config,
	}
}

// Register adds every pipeline kind to reg.
func (h *Handlers) Register(reg *handler.Registry) error {
	entries := []struct {
		kind    string
		h       handler.Handler
		timeout time.Duration
	}{
		{KindWelcome, handler.Typed(h.Welcome), h.config.NoticeTimeout},
		{KindConversion, handler.Typed(h.Convert), h.config.ConversionTimeout},
		{KindCompletion, handler.Typed(h.Completion), h.config.NoticeTimeout},
		{KindCleanup, handler.Typed(h.Cleanup), h.config.CleanupTimeout},
	}
	for _, e := range entries {
		if err := reg.Register(e.kind, e.h, handler.Timeout(e.timeout)); err != nil {
			return err
		}
	}
	return nil
}
