package server

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/harvestlab/ytharvest/internal/lifecycle"
	"github.com/harvestlab/ytharvest/internal/store"
	"github.com/harvestlab/ytharvest/internal/youtube"
)

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	col := store.Active
	if v := q.Get("collection"); v != "" {
		parsed, err := store.ParseCollection(v)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		col = parsed
	}

	filters := store.Filters{
		QueryText:       strings.TrimSpace(q.Get("search")),
		EmailsOnly:      q.Get("emailsOnly") == "true",
		EmailGateOnly:   q.Get("emailGateOnly") == "true",
		UniqueEmails:    q.Get("uniqueEmails") == "true",
		IncludeArchived: q.Get("includeArchived") == "true",
	}
	filters.Languages = splitList(q.Get("languages"))
	filters.Statuses = splitList(q.Get("statuses"))
	for _, st := range filters.Statuses {
		if !lifecycle.ValidStatus(st) {
			badRequest(w, "unknown status: "+st)
			return
		}
	}
	var err error
	if filters.MinSubscribers, err = parseOptionalInt(q.Get("minSubscribers")); err != nil {
		badRequest(w, "minSubscribers must be an integer")
		return
	}
	if filters.MaxSubscribers, err = parseOptionalInt(q.Get("maxSubscribers")); err != nil {
		badRequest(w, "maxSubscribers must be an integer")
		return
	}

	limit := 50
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		if n > 500 {
			n = 500
		}
		limit = n
	}
	offset := 0
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(w, "offset must be a non-negative integer")
			return
		}
		offset = n
	}

	result, err := s.store.Query(r.Context(), col, filters, q.Get("sort"), q.Get("order"), limit, offset)
	if err != nil {
		s.internalError(w, "query channels", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"items": result.Channels,
		"total": result.Total,
	})
}

// handleAddChannels accepts pasted channel references (bare IDs, channel
// URLs, handles, vanity URLs), resolves each to its canonical identity, and
// inserts the new ones into the active collection.
func (s *Server) handleAddChannels(w http.ResponseWriter, r *http.Request) {
	var req struct {
		References []string `json:"references"`
	}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid payload: "+err.Error())
		return
	}
	if len(req.References) == 0 {
		badRequest(w, "references must not be empty")
		return
	}

	now := lifecycle.FormatTime(time.Now())
	added, known := 0, 0
	failed := []map[string]string{}
	for _, ref := range req.References {
		// References carrying an explicit UC id skip the page fetch.
		id := youtube.ExtractChannelID(ref)
		name := ""
		if id == "" {
			res, err := s.resolver.Resolve(r.Context(), ref)
			if err != nil {
				failed = append(failed, map[string]string{
					"reference": ref,
					"error":     err.Error(),
				})
				continue
			}
			id = res.ChannelID
			name = res.Title
		}
		inserted, err := s.store.Insert(r.Context(), store.Channel{
			ChannelID:       store.NormalizeChannelID(id),
			Name:            name,
			URL:             store.EnsureChannelURL(id, ""),
			CreatedAt:       now,
			NeedsEnrichment: true,
			Status:          lifecycle.StatusNew,
		}, store.Active)
		if err != nil {
			s.internalError(w, "add channel", err)
			return
		}
		if inserted {
			added++
		} else {
			known++
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"added":  added,
		"known":  known,
		"failed": failed,
	})
}

type channelAction int

const (
	actionArchive channelAction = iota
	actionBlacklist
	actionRestore
)

func (s *Server) applyAction(r *http.Request, action channelAction, ids []string) ([]string, error) {
	ts := lifecycle.FormatTime(time.Now())
	switch action {
	case actionArchive:
		return s.store.ArchiveChannels(r.Context(), ids, ts)
	case actionBlacklist:
		return s.store.BlacklistChannels(r.Context(), ids, ts)
	case actionRestore:
		return s.store.RestoreChannels(r.Context(), ids, ts)
	}
	return nil, fmt.Errorf("unknown action %d", action)
}

func (s *Server) handleChannelAction(action channelAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := store.NormalizeChannelID(chi.URLParam(r, "id"))
		if id == "" {
			badRequest(w, "missing channel id")
			return
		}
		moved, err := s.applyAction(r, action, []string{id})
		if err != nil {
			s.internalError(w, "channel action", err)
			return
		}
		if len(moved) == 0 {
			notFound(w, "channel not found: "+id)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"moved": moved})
	}
}

func (s *Server) handleBulkAction(action channelAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			IDs []string `json:"ids"`
		}
		if err := decodeBody(r, &req); err != nil {
			badRequest(w, "invalid payload: "+err.Error())
			return
		}
		if len(req.IDs) == 0 {
			badRequest(w, "ids must not be empty")
			return
		}
		moved, err := s.applyAction(r, action, req.IDs)
		if err != nil {
			s.internalError(w, "bulk action", err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"moved": moved,
			"count": len(moved),
		})
	}
}

var csvHeader = []string{
	"Channel ID", "Name", "URL", "Subscribers", "Language", "Language Confidence",
	"Emails", "Email Gate", "Status", "Status Reason", "Last Updated",
	"Created At", "Last Attempted", "Last Error", "Exported At",
}

// handleExportCSV writes the active collection as CSV. Every exported row is
// stamped with one shared exported_at timestamp; with ?archive=true the whole
// batch is archived right after, matched by that exact timestamp.
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	result, err := s.store.Query(r.Context(), store.Active, store.Filters{}, "name", "asc", s.maxCSVRows, 0)
	if err != nil {
		s.internalError(w, "export csv", err)
		return
	}

	exportedAt := lifecycle.FormatTime(time.Now())
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="channels.csv"`)

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return
	}
	ids := make([]string, 0, len(result.Channels))
	for _, item := range result.Channels {
		ids = append(ids, item.ChannelID)
		record := []string{
			item.ChannelID,
			item.Name,
			item.URL,
			formatInt64Ptr(item.Subscribers),
			item.Language,
			formatFloatPtr(item.LanguageConfidence),
			item.Emails,
			formatBoolPtr(item.EmailGatePresent),
			string(item.Status),
			item.StatusReason,
			item.LastUpdated,
			item.CreatedAt,
			item.LastAttempted,
			item.LastError,
			exportedAt,
		}
		if err := cw.Write(record); err != nil {
			return
		}
	}
	cw.Flush()

	if len(ids) == 0 {
		return
	}
	if err := s.store.MarkExported(r.Context(), ids, exportedAt); err != nil {
		s.internalError(w, "mark exported", err)
		return
	}
	if r.URL.Query().Get("archive") == "true" {
		if _, err := s.store.ArchiveByExportedAt(r.Context(), exportedAt); err != nil {
			s.internalError(w, "archive exported", err)
		}
	}
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseOptionalInt(v string) (*int64, error) {
	if strings.TrimSpace(v) == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func formatInt64Ptr(p *int64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatInt(*p, 10)
}

func formatFloatPtr(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', 2, 64)
}

func formatBoolPtr(p *bool) string {
	if p == nil {
		return ""
	}
	return strconv.FormatBool(*p)
}
