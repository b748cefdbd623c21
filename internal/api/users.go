package api

import (
	"context"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/jdziat/docpipeline/internal/docs"
	"github.com/jdziat/docpipeline/internal/jobs"
	"github.com/jdziat/docpipeline/pkg/queue"
)

// RegisterResponse is returned for a successful registration.
type RegisterResponse struct {
	UserID  string `json:"userId"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// UserStatus is the status view of a user and their document.
type UserStatus struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	Document *DocumentStatus `json:"document"`
}

// DocumentStatus is the processing state of a user's document.
type DocumentStatus struct {
	Status      docs.Status `json:"status"`
	UploadedAt  time.Time   `json:"uploadedAt"`
	ProcessedAt *time.Time  `json:"processedAt"`
	PdfPath     *string     `json:"pdfPath"`
}

const (
	minNameLength = 2
	maxNameLength = 200
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := s.config.Logger

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.config.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeMessage(w, http.StatusRequestEntityTooLarge, "Request too large")
			return
		}
		writeMessage(w, http.StatusBadRequest, "Expected a multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	name := strings.TrimSpace(r.FormValue("name"))
	email := strings.TrimSpace(r.FormValue("email"))
	file, header, fileErr := r.FormFile("document")

	invalid := make(map[string]string)
	switch n := utf8.RuneCountInString(name); {
	case n == 0:
		invalid["name"] = "Name is required"
	case n < minNameLength || n > maxNameLength:
		invalid["name"] = fmt.Sprintf("Name must be between %d and %d characters", minNameLength, maxNameLength)
	}
	if email == "" {
		invalid["email"] = "Email is required"
	} else if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		invalid["email"] = "Invalid email format"
	}
	if fileErr != nil {
		invalid["document"] = "Document file is required"
	} else {
		defer file.Close()
	}
	if len(invalid) > 0 {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Validation failed", Errors: invalid})
		return
	}

	taken, err := s.users.EmailExists(ctx, email)
	if err != nil {
		logger.Error("registration failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if taken {
		writeMessage(w, http.StatusConflict, "Email already exists")
		return
	}

	storedName, path, err := s.uploads.Save(ctx, header.Filename, file)
	if err != nil {
		logger.Error("failed to save uploaded document", "file", header.Filename, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	user := &docs.User{ID: uuid.New().String(), Name: name, Email: email}
	doc := &docs.Document{
		ID:               uuid.New().String(),
		OriginalFileName: header.Filename,
		StoredFileName:   storedName,
		FilePath:         path,
		FileSize:         header.Size,
		ContentType:      header.Header.Get("Content-Type"),
		Status:           docs.StatusUploaded,
	}
	if err := s.users.CreateUser(ctx, user, doc); err != nil {
		s.discardUpload(ctx, path)
		if errors.Is(err, docs.ErrEmailTaken) {
			writeMessage(w, http.StatusConflict, "Email already exists")
			return
		}
		logger.Error("registration failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	logger.Info("user registered", "user_id", user.ID, "email", user.Email)

	s.enqueueRegistrationJobs(ctx, user.ID, doc.ID)

	writeJSON(w, http.StatusCreated, RegisterResponse{
		UserID:  user.ID,
		Status:  "Registered",
		Message: registeredMessage(s.config.ConversionDelay),
	})
}

// enqueueRegistrationJobs schedules the welcome notice now and the conversion
// after the configured delay. Failures are logged; the registration itself
// has already been committed.
func (s *Server) enqueueRegistrationJobs(ctx context.Context, userID, documentID string) {
	logger := s.config.Logger.With("user_id", userID, "document_id", documentID)

	if _, err := s.enqueuer.Enqueue(ctx, jobs.KindWelcome,
		jobs.UserPayload{UserID: userID},
		queue.Unique("welcome:"+userID),
	); err != nil {
		logger.Error("failed to enqueue welcome notice", "error", err)
	}

	if _, err := s.enqueuer.Enqueue(ctx, jobs.KindConversion,
		jobs.DocumentPayload{DocumentID: documentID},
		queue.Delay(s.config.ConversionDelay),
		queue.Unique("convert:"+documentID),
	); err != nil {
		logger.Error("failed to enqueue document conversion", "error", err)
	}
}

func (s *Server) discardUpload(ctx context.Context, path string) {
	if err := s.uploads.Delete(context.WithoutCancel(ctx), path); err != nil {
		s.config.Logger.Warn("failed to remove upload of failed registration", "path", path, "error", err)
	}
}

func (s *Server) handleUserStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeMessage(w, http.StatusNotFound, "User not found")
		return
	}

	user, err := s.users.GetUser(r.Context(), id)
	if errors.Is(err, docs.ErrUserNotFound) {
		writeMessage(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		s.config.Logger.Error("failed to load user", "user_id", id, "error", err)
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	resp := UserStatus{ID: user.ID, Name: user.Name, Email: user.Email}
	if d := user.Document; d != nil {
		resp.Document = &DocumentStatus{
			Status:      d.Status,
			UploadedAt:  d.UploadedAt,
			ProcessedAt: d.ProcessedAt,
		}
		if d.PdfPath != "" {
			pdf := d.PdfPath
			resp.Document.PdfPath = &pdf
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// registeredMessage tells the client when conversion will begin.
func registeredMessage(delay time.Duration) string {
	const prefix = "User registered successfully. "
	switch {
	case delay <= 0:
		return prefix + "Document processing will start shortly."
	case delay == time.Second:
		return prefix + "Document processing will start in 1 second."
	case delay%time.Second == 0 && delay < time.Hour:
		return fmt.Sprintf("%sDocument processing will start in %d seconds.", prefix, int(delay/time.Second))
	default:
		return fmt.Sprintf("%sDocument processing will start in %s.", prefix, delay)
	}
}
