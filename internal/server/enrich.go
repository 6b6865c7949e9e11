package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/harvestlab/ytharvest/internal/discovery"
	"github.com/harvestlab/ytharvest/internal/enrich"
)

type discoverRequest struct {
	Keywords             []string `json:"keywords"`
	PerKeyword           int      `json:"perKeyword"`
	RunUntilStopped      bool     `json:"runUntilStopped"`
	DenyLanguages        []string `json:"denyLanguages"`
	LastUploadMaxAgeDays int      `json:"lastUploadMaxAgeDays"`
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	req := discoverRequest{PerKeyword: 5}
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid payload: "+err.Error())
		return
	}
	if req.PerKeyword <= 0 {
		badRequest(w, "perKeyword must be greater than zero")
		return
	}

	result, err := s.discovery.Discover(r.Context(), discovery.Options{
		Keywords:         req.Keywords,
		PerKeyword:       req.PerKeyword,
		RunUntilStopped:  req.RunUntilStopped,
		DenyLanguages:    req.DenyLanguages,
		MaxUploadAgeDays: req.LastUploadMaxAgeDays,
	})
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleDiscoverStop(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.discovery.State().RequestStop())
}

type enrichRequest struct {
	Limit         *int   `json:"limit"`
	Mode          string `json:"mode"`
	ForceRun      bool   `json:"forceRun"`
	NeverReenrich bool   `json:"neverReenrich"`
}

func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	var req enrichRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "invalid payload: "+err.Error())
		return
	}
	mode, err := enrich.ParseMode(req.Mode)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	limit := 0
	if req.Limit != nil {
		if *req.Limit <= 0 {
			badRequest(w, "limit must be greater than zero")
			return
		}
		limit = *req.Limit
	}

	job, err := s.manager.StartJob(r.Context(), limit, mode, req.ForceRun, req.NeverReenrich)
	if err != nil {
		s.internalError(w, "start job", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"jobId":     job.ID,
		"total":     job.Total(),
		"requested": job.Requested(),
		"skipped":   job.Skipped(),
		"mode":      job.Mode,
	})
}

// heartbeatInterval keeps idle SSE connections from being reaped by proxies.
const heartbeatInterval = 10 * time.Second

func (s *Server) handleEnrichStream(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, ok := s.manager.Subscribe(jobID)
	if !ok {
		notFound(w, "unknown job: "+jobID)
		return
	}
	defer s.manager.Release(jobID)

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.internalError(w, "stream", fmt.Errorf("response writer does not support streaming"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, "data: {}\n\n")
			flusher.Flush()
		case ev := <-job.Events():
			if ev == nil {
				writeSSE(w, job.FinalSummary())
				flusher.Flush()
				return
			}
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev enrich.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}
