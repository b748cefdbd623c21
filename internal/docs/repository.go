package docs

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"

	"github.com/jdziat/docpipeline/pkg/storage"
)

var (
	ErrUserNotFound     = errors.New("docs: user not found")
	ErrDocumentNotFound = errors.New("docs: document not found")
	ErrEmailTaken       = errors.New("docs: email already registered")
)

// Repository reads and writes users and documents.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

// Option configures a Repository.
type Option interface {
	applyRepository(*Repository)
}

type optionFunc func(*Repository)

func (f optionFunc) applyRepository(r *Repository) { f(r) }

// WithClock overrides the time source used for registration and processing times.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(r *Repository) {
		r.now = now
	})
}

// NewRepository creates a repository over db.
func NewRepository(db *gorm.DB, opts ...Option) *Repository {
	r := &Repository{db: db, now: time.Now}
	for _, opt := range opts {
		opt.applyRepository(r)
	}
	return r
}

func (r *Repository) clock() time.Time {
	return r.now().UTC()
}

// Migrate creates the users and documents tables.
func (r *Repository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&User{}, &Document{}); err != nil {
		return errors.Wrap(err, "migrate documents schema")
	}
	return nil
}

// Ping checks that the database answers queries.
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return errors.Wrap(err, "get database handle")
	}
	return errors.Wrap(sqlDB.PingContext(ctx), "ping database")
}

// CountUsers returns the number of registered users.
func (r *Repository) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&User{}).Count(&n).Error; err != nil {
		return 0, errors.Wrap(err, "count users")
	}
	return n, nil
}

// EmailExists reports whether a user with email is already registered.
func (r *Repository) EmailExists(ctx context.Context, email string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&User{}).Where("email = ?", email).Count(&n).Error
	if err != nil {
		return false, errors.Wrap(err, "check email")
	}
	return n > 0, nil
}

// CreateUser stores user and its document in one transaction. IDs and
// timestamps left empty are filled in. A second user with the same email
// yields ErrEmailTaken.
func (r *Repository) CreateUser(ctx context.Context, user *User, doc *Document) error {
	now := r.clock()
	if user.RegisteredAt.IsZero() {
		user.RegisteredAt = now
	}
	if doc != nil {
		doc.UserID = user.ID
		if doc.Status == "" {
			doc.Status = StatusUploaded
		}
		if doc.UploadedAt.IsZero() {
			doc.UploadedAt = now
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Document").Create(user).Error; err != nil {
			return err
		}
		if doc != nil {
			return tx.Create(doc).Error
		}
		return nil
	})
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return errors.WithDetailf(ErrEmailTaken, "email %s", user.Email)
		}
		return errors.Wrap(err, "create user")
	}
	user.Document = doc
	return nil
}

// GetUser loads a user with its document.
func (r *Repository) GetUser(ctx context.Context, id string) (*User, error) {
	var user User
	err := r.db.WithContext(ctx).Preload("Document").First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.WithDetailf(ErrUserNotFound, "user %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get user %s", id)
	}
	return &user, nil
}

// GetDocument loads a document by ID.
func (r *Repository) GetDocument(ctx context.Context, id string) (*Document, error) {
	var doc Document
	err := r.db.WithContext(ctx).First(&doc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.WithDetailf(ErrDocumentNotFound, "document %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get document %s", id)
	}
	return &doc, nil
}

// SetStatus moves a document to status.
func (r *Repository) SetStatus(ctx context.Context, id string, status Status) error {
	return r.update(ctx, id, map[string]any{"status": status})
}

// MarkCompleted records a successful conversion.
func (r *Repository) MarkCompleted(ctx context.Context, id, pdfPath string) (time.Time, error) {
	at := r.clock()
	err := r.update(ctx, id, map[string]any{
		"status":       StatusCompleted,
		"pdf_path":     pdfPath,
		"processed_at": at,
	})
	return at, err
}

func (r *Repository) update(ctx context.Context, id string, fields map[string]any) error {
	result := r.db.WithContext(ctx).Model(&Document{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return errors.Wrapf(result.Error, "update document %s", id)
	}
	if result.RowsAffected == 0 {
		return errors.WithDetailf(ErrDocumentNotFound, "document %s", id)
	}
	return nil
}

// ListUploadedBefore returns documents uploaded before cutoff, oldest first.
// With failedOnly only documents in StatusFailed are returned.
func (r *Repository) ListUploadedBefore(ctx context.Context, cutoff time.Time, failedOnly bool) ([]*Document, error) {
	q := r.db.WithContext(ctx).Where("uploaded_at < ?", cutoff.UTC())
	if failedOnly {
		q = q.Where("status = ?", StatusFailed)
	}
	var out []*Document
	if err := q.Order("uploaded_at ASC").Find(&out).Error; err != nil {
		return nil, errors.Wrap(err, "list stale documents")
	}
	return out, nil
}

// DeleteDocument removes a document record. Deleting a missing document is not an error.
func (r *Repository) DeleteDocument(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Delete(&Document{}, "id = ?", id).Error; err != nil {
		return errors.Wrapf(err, "delete document %s", id)
	}
	return nil
}

// ReferencedPaths returns the subset of paths that some document still
// references as its upload or its converted PDF.
func (r *Repository) ReferencedPaths(ctx context.Context, paths []string) (map[string]bool, error) {
	refs := make(map[string]bool)
	if len(paths) == 0 {
		return refs, nil
	}
	var docs []Document
	err := r.db.WithContext(ctx).
		Select("file_path", "pdf_path").
		Where("file_path IN ? OR pdf_path IN ?", paths, paths).
		Find(&docs).Error
	if err != nil {
		return nil, errors.Wrap(err, "find referenced files")
	}
	for _, d := range docs {
		refs[d.FilePath] = true
		if d.PdfPath != "" {
			refs[d.PdfPath] = true
		}
	}
	return refs, nil
}
