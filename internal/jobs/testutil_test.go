package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/jdziat/docpipeline/internal/docs"
	"github.com/jdziat/docpipeline/internal/files"
	"github.com/jdziat/docpipeline/internal/notify"
	"github.com/jdziat/docpipeline/pkg/handler"
	"github.com/jdziat/docpipeline/pkg/queue"
	"github.com/jdziat/docpipeline/pkg/storage"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// failingConverter delegates to the real converter unless err is set.
type failingConverter struct {
	next Converter

	mu    sync.Mutex
	err   error
	calls int
}

func (c *failingConverter) Convert(ctx context.Context, src, dst string) error {
	c.mu.Lock()
	c.calls++
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.next.Convert(ctx, src, dst)
}

func (c *failingConverter) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type recordingNotifier struct {
	mu      sync.Mutex
	err     error
	notices []notify.Notice
}

func (n *recordingNotifier) Notify(_ context.Context, notice notify.Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.notices = append(n.notices, notice)
	return nil
}

func (n *recordingNotifier) Sent(kind notify.Kind) []notify.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Notice
	for _, notice := range n.notices {
		if notice.Kind == kind {
			out = append(out, notice)
		}
	}
	return out
}

type fixture struct {
	clock     *testClock
	repo      *docs.Repository
	store     *storage.GormStorage
	files     *files.LocalStorage
	converter *failingConverter
	notifier  *recordingNotifier
	handlers  *Handlers
	registry  *handler.Registry
	queue     *queue.Queue
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)}

	db, err := storage.Open("sqlite", ":memory:", logger.Default.LogMode(logger.Silent))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	store := storage.NewGormStorage(db, storage.WithClock(clock.Now))
	require.NoError(t, store.Migrate(ctx))
	repo := docs.NewRepository(db, docs.WithClock(clock.Now))
	require.NoError(t, repo.Migrate(ctx))

	root := t.TempDir()
	fs, err := files.NewLocalStorage(
		filepath.Join(root, "uploads"),
		filepath.Join(root, "uploads", "pdfs"),
		files.WithLogger(quiet),
	)
	require.NoError(t, err)

	f := &fixture{
		clock:     clock,
		repo:      repo,
		store:     store,
		files:     fs,
		converter: &failingConverter{next: fs},
		notifier:  &recordingNotifier{},
		registry:  handler.NewRegistry(),
	}
	base := []Option{Clock(clock.Now)}
	f.handlers = New(repo, fs, f.converter, f.notifier, store, append(base, opts...)...)
	require.NoError(t, f.handlers.Register(f.registry))
	f.queue = queue.New(store, queue.WithClock(clock.Now), queue.WithRegistry(f.registry))
	return f
}

// register creates a user with an uploaded document.
func (f *fixture) register(t *testing.T, email string) (*docs.User, *docs.Document) {
	t.Helper()
	ctx := context.Background()
	stored, path, err := f.files.Save(ctx, "resume.docx", strings.NewReader("document body"))
	require.NoError(t, err)

	user := &docs.User{ID: uuid.New().String(), Name: "Grace", Email: email}
	doc := &docs.Document{
		ID:               uuid.New().String(),
		OriginalFileName: "resume.docx",
		StoredFileName:   stored,
		FilePath:         path,
		FileSize:         int64(len("document body")),
		ContentType:      "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	}
	require.NoError(t, f.repo.CreateUser(ctx, user, doc))
	return user, doc
}

func (f *fixture) document(t *testing.T, id string) *docs.Document {
	t.Helper()
	doc, err := f.repo.GetDocument(context.Background(), id)
	require.NoError(t, err)
	return doc
}

var errConverterDown = errors.New("converter unavailable")
