package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/urclgw/internal/events"
	"github.com/mattjoyce/urclgw/internal/history"
	"github.com/mattjoyce/urclgw/internal/job"
	"github.com/mattjoyce/urclgw/internal/log"
	"github.com/mattjoyce/urclgw/internal/queue"
)

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:    s.deps.Queue.Depth(),
		WorkerState:   "unknown",
		EngineState:   "unknown",
	}
	if s.deps.Worker != nil {
		resp.WorkerState = s.deps.Worker.State().String()
	}
	if s.deps.Engine != nil {
		resp.EngineState = string(s.deps.Engine.State())
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleSubmit handles POST /jobs. With ?wait=true it blocks until the job
// finishes or the sync timeout passes.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sub := job.Submission{
		Name:       req.Name,
		Language:   req.Language,
		OutputType: req.OutputType,
		Tier:       req.Tier,
		Origin:     req.Origin,
		Source:     req.Source,
	}
	if req.Attachment != nil {
		sub.Attachment = &job.Attachment{
			URL:      req.Attachment.URL,
			Filename: req.Attachment.Filename,
			Size:     req.Attachment.Size,
		}
	}

	j, ticket, err := s.enqueue(sub)
	switch {
	case errors.Is(err, job.ErrSourceTooLarge):
		s.writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	case errors.Is(err, job.ErrInvalidSubmission):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("failed to build job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to build job")
		return
	}

	accepted := SubmitResponse{JobID: j.ID, Status: "queued", Name: j.Name}
	if r.URL.Query().Get("wait") != "true" {
		respondJSON(w, http.StatusAccepted, accepted)
		return
	}

	select {
	case s.syncSemaphore <- struct{}{}:
		defer func() { <-s.syncSemaphore }()
	default:
		// Too many waiters; the job is queued regardless.
		respondJSON(w, http.StatusAccepted, accepted)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.SyncTimeout)
	defer cancel()

	res, err := ticket.Wait(ctx)
	if err != nil {
		respondJSON(w, http.StatusAccepted, accepted)
		return
	}
	respondJSON(w, http.StatusOK, resultResponse(res))
}

func (s *Server) enqueue(sub job.Submission) (*job.Job, *queue.Ticket, error) {
	j, err := s.deps.Builder.Build(sub)
	if err != nil {
		return nil, nil, err
	}

	// Enqueue wakes the dispatcher, so job.queued must go out first.
	if s.deps.Events != nil {
		s.deps.Events.Publish(events.JobQueued, map[string]any{
			"job_id": j.ID,
			"name":   j.Name,
			"origin": j.Origin,
		})
	}
	ticket := s.deps.Queue.Enqueue(j)
	log.WithJob(j.ID).Info("job queued", "name", j.Name, "origin", j.Origin, "depth", s.deps.Queue.Depth())
	return j, ticket, nil
}

func resultResponse(res job.Result) JobResultResponse {
	resp := JobResultResponse{
		JobID:       res.JobID,
		Name:        res.Name,
		Origin:      res.Origin,
		Status:      history.StatusSucceeded,
		Lines:       res.Lines,
		CompletedAt: res.CompletedAt,
	}
	if !res.OK() {
		resp.Status = history.StatusFailed
		resp.Lines = res.Failure.Lines
		resp.ErrorKind = string(res.Failure.Kind)
		resp.ErrorMessage = res.Failure.Message
	}
	if resp.Lines == nil {
		resp.Lines = []string{}
	}
	return resp
}

// handleListJobs handles GET /jobs?limit=N.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	entries, err := s.deps.History.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	respondJSON(w, http.StatusOK, JobListResponse{Jobs: entries})
}

// handleGetJob handles GET /jobs/{jobID}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	entry, err := s.deps.History.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("failed to retrieve job", "job_id", jobID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve job")
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc())
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
