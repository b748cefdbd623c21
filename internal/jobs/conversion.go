package jobs

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/jdziat/docpipeline/internal/docs"
	"github.com/jdziat/docpipeline/pkg/core"
	"github.com/jdziat/docpipeline/pkg/handler"
	"github.com/jdziat/docpipeline/pkg/jobctx"
)

// statusTimeout bounds the status write that records a failed conversion
// after the attempt's own context has expired.
const statusTimeout = 10 * time.Second

// Convert renders the document as a PDF and, on success, schedules the
// completion notice.
func (h *Handlers) Convert(ctx context.Context, p DocumentPayload) (handler.Result, error) {
	logger := jobctx.Logger(ctx).With("document_id", p.DocumentID)

	doc, err := h.docs.GetDocument(ctx, p.DocumentID)
	if errors.Is(err, docs.ErrDocumentNotFound) {
		if h.config.MissingDocument == MissingDocumentFail {
			return handler.Result{}, core.NoRetry(&core.HandlerError{Kind: KindConversion, Err: err})
		}
		logger.Warn("document not found, skipping conversion")
		return handler.Result{}, nil
	}
	if err != nil {
		return handler.Result{}, &core.HandlerError{Kind: KindConversion, Err: err}
	}

	if err := h.docs.SetStatus(ctx, doc.ID, docs.StatusProcessing); err != nil {
		return handler.Result{}, &core.HandlerError{Kind: KindConversion, Err: err}
	}
	logger.Info("converting document", "user_id", doc.UserID, "attempt", jobctx.Attempt(ctx))

	pdfPath := h.files.PDFPath(doc.StoredFileName)
	if err := h.converter.Convert(ctx, doc.FilePath, pdfPath); err != nil {
		h.markFailed(ctx, doc.ID)
		return handler.Result{}, &core.HandlerError{
			Kind: KindConversion,
			Err:  errors.WithSecondaryError(errors.Wrapf(core.ErrConversionFailed, "convert %s: %v", doc.ID, err), err),
		}
	}

	processedAt, err := h.docs.MarkCompleted(ctx, doc.ID, pdfPath)
	if err != nil {
		return handler.Result{}, &core.HandlerError{Kind: KindConversion, Err: err}
	}
	logger.Info("document converted", "pdf_path", pdfPath, "processed_at", processedAt)

	return handler.Result{}.Then(handler.FollowUp{
		Kind:      KindCompletion,
		Payload:   UserPayload{UserID: doc.UserID},
		UniqueKey: "completion:" + doc.ID,
	}), nil
}

// markFailed records the failed status even when ctx has already expired.
func (h *Handlers) markFailed(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusTimeout)
	defer cancel()
	if err := h.docs.SetStatus(ctx, id, docs.StatusFailed); err != nil {
		jobctx.Logger(ctx).Error("failed to record conversion failure", "document_id", id, "error", err)
	}
}
