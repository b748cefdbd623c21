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

// Cleanup removes documents older than the retention window along with
// their files, then purges finished jobs of the same age. A document that
// cannot be removed is logged and left for the next sweep.
func (h *Handlers) Cleanup(ctx context.Context, _ CleanupPayload) (handler.Result, error) {
	opts := h.config.Cleanup
	logger := jobctx.Logger(ctx)
	cutoff := h.config.Now().Add(-opts.Retention)

	logger.Info("starting cleanup", "cutoff", cutoff, "failed_only", opts.FailedOnly)

	stale, err := h.docs.ListUploadedBefore(ctx, cutoff, opts.FailedOnly)
	if err != nil {
		return handler.Result{}, &core.HandlerError{Kind: KindCleanup, Err: err}
	}

	removed := 0
	for _, doc := range stale {
		if err := ctx.Err(); err != nil {
			return handler.Result{}, err
		}
		if err := h.removeDocument(ctx, doc); err != nil {
			logger.Warn("failed to remove document", "document_id", doc.ID, "error", err)
			continue
		}
		removed++
	}

	orphans := 0
	if opts.SweepOrphans {
		if orphans, err = h.sweepOrphans(ctx, cutoff); err != nil {
			logger.Warn("orphan sweep failed", "error", err)
		}
	}

	reaped, err := h.reaper.Reap(ctx, cutoff)
	if err != nil {
		return handler.Result{}, &core.HandlerError{Kind: KindCleanup, Err: errors.Wrap(err, "reap finished jobs")}
	}

	logger.Info("cleanup completed",
		"documents_removed", removed,
		"documents_skipped", len(stale)-removed,
		"orphans_removed", orphans,
		"jobs_reaped", reaped)
	return handler.Result{}, nil
}

// removeDocument deletes the upload, then the PDF, then the record, so a
// record only disappears once nothing it points at is left on disk.
func (h *Handlers) removeDocument(ctx context.Context, doc *docs.Document) error {
	if err := h.files.Delete(ctx, doc.FilePath); err != nil {
		return err
	}
	if doc.PdfPath != "" {
		if err := h.files.Delete(ctx, doc.PdfPath); err != nil {
			return err
		}
	}
	return h.docs.DeleteDocument(ctx, doc.ID)
}

// sweepOrphans deletes upload files past retention that no document references.
func (h *Handlers) sweepOrphans(ctx context.Context, cutoff time.Time) (int, error) {
	paths, err := h.files.ListOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	refs, err := h.docs.ReferencedPaths(ctx, paths)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, path := range paths {
		if refs[path] {
			continue
		}
		if err := h.files.Delete(ctx, path); err != nil {
			jobctx.Logger(ctx).Warn("failed to remove orphaned file", "path", path, "error", err)
			continue
		}
		n++
	}
	return n, nil
}
