package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/openbarter/tradecore/internal/domain"
)

// DisputeResolver defines the admin-side dispute operation the handler
// requires from the service layer.
type DisputeResolver interface {
	ResolveDispute(ctx context.Context, tradeID string, resolution domain.TradeStatus, reason string) (domain.Trade, error)
}

// AuditSource reads back the audit log for operator review.
type AuditSource interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// ArchiveBrowser lists and retrieves cold-storage archive objects.
// Implemented by the S3 blob reader; nil when archival is not configured.
type ArchiveBrowser interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]domain.BlobInfo, error)
}

// AdminHandler serves the operator surface: dispute resolution, the audit
// log, and archive listings. Routes are registered behind API-key auth.
type AdminHandler struct {
	disputes DisputeResolver
	audit    AuditSource
	archives ArchiveBrowser
	logger   *slog.Logger
}

// NewAdminHandler creates an AdminHandler. archives may be nil when archive
// storage is disabled.
func NewAdminHandler(disputes DisputeResolver, audit AuditSource, archives ArchiveBrowser, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		disputes: disputes,
		audit:    audit,
		archives: archives,
		logger:   logger,
	}
}

// resolveDisputeRequest is the JSON body for closing out a disputed trade.
type resolveDisputeRequest struct {
	Resolution string `json:"resolution"` // "completed" or "cancelled"
	Reason     string `json:"reason"`
}

// listAuditResponse wraps the audit log listing.
type listAuditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
}

// archiveObject is one cold-storage export in an archive listing.
type archiveObject struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// listArchivesResponse wraps the archive listing.
type listArchivesResponse struct {
	Archives []archiveObject `json:"archives"`
}

// ResolveDispute closes a disputed trade as completed or cancelled after
// manual review.
// POST /api/admin/trades/{id}/resolve
func (h *AdminHandler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req resolveDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Resolution == "" || req.Reason == "" {
		writeError(w, http.StatusBadRequest, "resolution and reason are required")
		return
	}

	id := pathParam(r, "id")
	trade, err := h.disputes.ResolveDispute(r.Context(), id, domain.TradeStatus(req.Resolution), req.Reason)
	if err != nil {
		writeTransitionError(w, r, h.logger, err, "resolve dispute")
		return
	}

	writeJSON(w, http.StatusOK, tradeResponse{Trade: trade})
}

// ListAudit returns audit log entries, newest first, with optional
// since/until bounds.
// GET /api/admin/audit?limit=50&offset=0&since=...&until=...
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}

	if entries == nil {
		entries = []domain.AuditEntry{}
	}

	writeJSON(w, http.StatusOK, listAuditResponse{Entries: entries})
}

// ListArchives returns the cold-storage objects under the given prefix.
// GET /api/admin/archives?prefix=archive/trades/
func (h *AdminHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage is not configured")
		return
	}

	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = "archive/"
	}

	infos, err := h.archives.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archives failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}

	objects := make([]archiveObject, 0, len(infos))
	for _, info := range infos {
		objects = append(objects, archiveObject{
			Path:         info.Path,
			Size:         info.Size,
			LastModified: info.LastModified,
		})
	}

	writeJSON(w, http.StatusOK, listArchivesResponse{Archives: objects})
}

// DownloadArchive streams one cold-storage export back to the operator.
// The wildcard carries the full object key.
// GET /api/admin/archives/{path...}
func (h *AdminHandler) DownloadArchive(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage is not configured")
		return
	}

	path := pathParam(r, "path")
	body, err := h.archives.Get(r.Context(), path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "archive object not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: archive download failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read archive object")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: archive download interrupted",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
