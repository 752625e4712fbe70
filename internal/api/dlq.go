package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/thaian1234/sync-service/internal/cache"
	"github.com/thaian1234/sync-service/internal/domain"
	"github.com/thaian1234/sync-service/internal/scheduler"
	"github.com/thaian1234/sync-service/internal/store"
)

// bulkRetryCap bounds how many entries one bulk retry request may replay.
const bulkRetryCap = 1000

type DlqHandler struct {
	store     *store.PostgresStore
	scheduler *scheduler.RetryScheduler
	cache     *cache.IdempotencyCache
}

func NewDlqHandler(s *store.PostgresStore, sched *scheduler.RetryScheduler, c *cache.IdempotencyCache) *DlqHandler {
	return &DlqHandler{store: s, scheduler: sched, cache: c}
}

// parseFilter reads the shared filter query parameters.
func parseFilter(r *http.Request) (store.DlqFilter, error) {
	q := r.URL.Query()
	filter := store.DlqFilter{
		Status:    domain.DlqStatus(q.Get("status")),
		TableName: q.Get("table"),
		Operation: q.Get("operation"),
	}
	if s := q.Get("created_after"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return filter, err
		}
		filter.CreatedAfter = &t
	}
	if s := q.Get("created_before"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return filter, err
		}
		filter.CreatedBefore = &t
	}
	return filter, nil
}

func (h *DlqHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid timestamp filter, expected RFC3339")
		return
	}

	page := 1
	if n, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && n > 0 {
		page = n
	}
	limit := 10
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n <= 100 {
		limit = n
	}

	entries, total, err := h.store.ListDlqEntries(r.Context(), filter, page, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list dlq entries")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   total,
		"page":    page,
		"limit":   limit,
	})
}

func (h *DlqHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.DlqStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read dlq stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (h *DlqHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entry, err := h.store.GetDlqEntry(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get dlq entry")
		return
	}
	if entry == nil {
		respondError(w, http.StatusNotFound, "dlq entry not found")
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// Retry forces an immediate replay, ignoring the backoff window.
func (h *DlqHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entry, err := h.store.GetDlqEntry(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get dlq entry")
		return
	}
	if entry == nil {
		respondError(w, http.StatusNotFound, "dlq entry not found")
		return
	}

	outcome := h.scheduler.RetryEntry(r.Context(), id)
	if outcome == scheduler.OutcomeSkipped {
		respondError(w, http.StatusConflict, "entry is not in a retryable state")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

// Reset zeroes the retry count and reopens the entry for scheduled retry.
// The cached event id is evicted so the replay consults the ledger, not a
// stale fast-path entry.
func (h *DlqHandler) Reset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entry, err := h.store.GetDlqEntry(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get dlq entry")
		return
	}
	if entry == nil {
		respondError(w, http.StatusNotFound, "dlq entry not found")
		return
	}

	ok, err := h.store.ResetDlqEntry(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to reset dlq entry")
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "dlq entry not found")
		return
	}

	if entry.EventID != "" {
		h.cache.Remove(r.Context(), entry.EventID)
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": string(domain.DlqPending)})
}

func (h *DlqHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ok, err := h.store.ArchiveDlqEntry(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to archive dlq entry")
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "dlq entry not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": string(domain.DlqArchived)})
}

func (h *DlqHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ok, err := h.store.DeleteDlqEntry(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete dlq entry")
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "dlq entry not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type bulkRetryRequest struct {
	Status    string `json:"status"`
	Table     string `json:"table"`
	Operation string `json:"operation"`
	Limit     int    `json:"limit"`
}

// BulkRetry replays every entry matching the filter, oldest first, through
// the same per-entry transactional path as the scheduler.
func (h *DlqHandler) BulkRetry(w http.ResponseWriter, r *http.Request) {
	var req bulkRetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Limit <= 0 || req.Limit > bulkRetryCap {
		req.Limit = bulkRetryCap
	}

	filter := store.DlqFilter{
		Status:    domain.DlqStatus(req.Status),
		TableName: req.Table,
		Operation: req.Operation,
	}
	if filter.Status == "" {
		filter.Status = domain.DlqPending
	}

	ids, err := h.store.ListDlqIDs(r.Context(), filter, req.Limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list dlq entries")
		return
	}

	counts := map[scheduler.Outcome]int{}
	for _, id := range ids {
		counts[h.scheduler.RetryEntry(r.Context(), id)]++
		if r.Context().Err() != nil {
			break
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"attempted": len(ids),
		"succeeded": counts[scheduler.OutcomeSuccess],
		"failed":    counts[scheduler.OutcomeFailed],
		"skipped":   counts[scheduler.OutcomeSkipped],
	})
}

type bulkArchiveRequest struct {
	Status    string `json:"status"`
	Table     string `json:"table"`
	Operation string `json:"operation"`
	OlderThan string `json:"older_than"` // RFC3339; archives entries created before it
}

// BulkArchive marks every entry matching the filter as operator-resolved.
// An empty filter defaults to FAILED entries rather than the whole queue.
func (h *DlqHandler) BulkArchive(w http.ResponseWriter, r *http.Request) {
	var req bulkArchiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	filter := store.DlqFilter{
		Status:    domain.DlqStatus(req.Status),
		TableName: req.Table,
		Operation: req.Operation,
	}
	if filter.Status == "" {
		filter.Status = domain.DlqFailed
	}
	if req.OlderThan != "" {
		t, err := time.Parse(time.RFC3339, req.OlderThan)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid older_than, expected RFC3339")
			return
		}
		filter.CreatedBefore = &t
	}

	archived, err := h.store.BulkArchive(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to archive dlq entries")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"archived": archived})
}

func (h *DlqHandler) DeleteArchived(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.store.DeleteArchived(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete archived entries")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}
