package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/videoforge-api/internal/apperr"
	"github.com/maauso/videoforge-api/internal/batch"
	"github.com/maauso/videoforge-api/internal/job"
	"github.com/maauso/videoforge-api/internal/notify"
	"github.com/maauso/videoforge-api/internal/pipeline"
	"github.com/maauso/videoforge-api/internal/poller"
	"github.com/maauso/videoforge-api/internal/provider"
	"github.com/maauso/videoforge-api/internal/speech"
	"github.com/maauso/videoforge-api/internal/storage"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	jobs      *job.SubmitService
	poller    *poller.Poller
	batches   *batch.Coordinator
	pipelines *pipeline.Runner
	speech    speech.Synthesizer
	events    *notify.EventBus
	files     *storage.LocalStorage
	registry  *provider.Registry
	validator *validator.Validate
	logger    *slog.Logger
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithPoller exposes poll tracking info and local cancellation.
func WithPoller(p *poller.Poller) HandlerOption {
	return func(h *Handlers) {
		h.poller = p
	}
}

// WithBatches enables the /batches routes.
func WithBatches(c *batch.Coordinator) HandlerOption {
	return func(h *Handlers) {
		h.batches = c
	}
}

// WithPipelines enables the /pipelines routes.
func WithPipelines(r *pipeline.Runner) HandlerOption {
	return func(h *Handlers) {
		h.pipelines = r
	}
}

// WithSpeech enables POST /speech.
func WithSpeech(s speech.Synthesizer) HandlerOption {
	return func(h *Handlers) {
		h.speech = s
	}
}

// WithEvents enables GET /events.
func WithEvents(b *notify.EventBus) HandlerOption {
	return func(h *Handlers) {
		h.events = b
	}
}

// WithFiles serves published artifacts from local storage.
func WithFiles(s *storage.LocalStorage) HandlerOption {
	return func(h *Handlers) {
		h.files = s
	}
}

// WithRegistry lists the configured providers on GET /capabilities.
func WithRegistry(r *provider.Registry) HandlerOption {
	return func(h *Handlers) {
		h.registry = r
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(jobs *job.SubmitService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		jobs:      jobs,
		validator: validator.New(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if h.poller != nil {
		resp.Polling = h.poller.Tracked()
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateVideo handles POST /videos requests.
func (h *Handlers) CreateVideo(w http.ResponseWriter, r *http.Request) {
	var req CreateVideoRequest
	if !h.decode(w, r, &req) {
		return
	}

	created, err := h.jobs.Submit(r.Context(), job.SubmitInput{
		Prompt:      req.Prompt,
		ImageURL:    req.ImageURL,
		EndImageURL: req.EndImageURL,
		Duration:    req.Duration,
	})
	if err != nil {
		h.writeAppError(w, "failed to submit video", err)
		return
	}

	writeJSON(w, http.StatusAccepted, CreateVideoResponse{
		ID:     created.ID,
		Status: string(created.GetStatus()),
	})
}

// ListVideos handles GET /videos requests.
func (h *Handlers) ListVideos(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := job.Filter{
		Status:     job.Status(q.Get("status")),
		BatchID:    q.Get("batch_id"),
		PipelineID: q.Get("pipeline_id"),
		Limit:      defaultListLimit,
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(string(filter.Status)), "VALIDATION_ERROR")
		return
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500", "VALIDATION_ERROR")
			return
		}
		filter.Limit = n
	}

	jobs, err := h.jobs.List(r.Context(), filter)
	if err != nil {
		h.writeAppError(w, "failed to list videos", err)
		return
	}

	resp := ListVideosResponse{Videos: make([]VideoResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Videos = append(resp.Videos, videoResponse(j))
	}
	resp.Count = len(resp.Videos)
	writeJSON(w, http.StatusOK, resp)
}

// GetVideo handles GET /videos/{id} requests.
func (h *Handlers) GetVideo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	found, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		h.writeAppError(w, "failed to get video", err)
		return
	}

	resp := videoResponse(found)
	if h.poller != nil {
		if handle, ok := h.poller.Handle(id); ok {
			info := handle.Info()
			resp.Polling = &info
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelVideo handles POST /videos/{id}/cancel requests. Only local
// polling stops; the provider keeps working on the job.
func (h *Handlers) CancelVideo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.jobs.Get(r.Context(), id); err != nil {
		h.writeAppError(w, "failed to cancel video", err)
		return
	}

	canceled := false
	if h.poller != nil {
		canceled = h.poller.Cancel(id)
	}
	h.logger.Info("video polling cancel requested",
		slog.String("job_id", id),
		slog.Bool("canceled", canceled),
	)
	writeJSON(w, http.StatusOK, CancelResponse{ID: id, Canceled: canceled})
}

// RefreshVideo handles POST /videos/{id}/refresh requests: one status
// request right away, outside the poll schedule.
func (h *Handlers) RefreshVideo(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.jobs.Get(r.Context(), id); err != nil {
		h.writeAppError(w, "failed to refresh video", err)
		return
	}
	if h.poller == nil {
		writeUnavailable(w, "polling")
		return
	}

	err := h.poller.PollNow(r.Context(), id)
	switch {
	case errors.Is(err, poller.ErrNotTracked):
		writeError(w, http.StatusConflict, "video is not being polled", "CONFLICT")
		return
	case errors.Is(err, poller.ErrPollInFlight):
		writeError(w, http.StatusConflict, "a status request is already in flight", "POLL_IN_FLIGHT")
		return
	case err != nil:
		h.writeAppError(w, "failed to refresh video", err)
		return
	}

	// The poll may have finished the job; read the ledger again.
	h.GetVideo(w, r)
}

// DeleteVideo handles DELETE /videos/{id} requests.
func (h *Handlers) DeleteVideo(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.writeAppError(w, "failed to delete video", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateBatch handles POST /batches requests. Submission continues on a
// detached context so a client disconnect does not abort the run.
func (h *Handlers) CreateBatch(w http.ResponseWriter, r *http.Request) {
	if h.batches == nil {
		writeUnavailable(w, "batches")
		return
	}
	var req CreateBatchRequest
	if !h.decode(w, r, &req) {
		return
	}

	run, err := h.batches.Start(context.WithoutCancel(r.Context()), batch.Request{
		Theme:       req.Theme,
		TargetCount: req.TargetCount,
		Prompts:     req.Prompts,
		Duration:    req.Duration,
		ImageURL:    req.ImageURL,
	})
	if err != nil {
		h.writeAppError(w, "failed to start batch", err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

// GetBatch handles GET /batches/{id} requests.
func (h *Handlers) GetBatch(w http.ResponseWriter, r *http.Request) {
	if h.batches == nil {
		writeUnavailable(w, "batches")
		return
	}
	status, err := h.batches.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeAppError(w, "failed to get batch", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// AssembleBatch handles POST /batches/{id}/assemble requests.
func (h *Handlers) AssembleBatch(w http.ResponseWriter, r *http.Request) {
	if h.batches == nil {
		writeUnavailable(w, "batches")
		return
	}
	id := r.PathValue("id")
	url, err := h.batches.Assemble(context.WithoutCancel(r.Context()), id)
	if errors.Is(err, batch.ErrAssemblyUnavailable) {
		writeUnavailable(w, "batch assembly")
		return
	}
	if err != nil {
		h.writeAppError(w, "failed to assemble batch", err)
		return
	}
	writeJSON(w, http.StatusOK, AssembleResponse{BatchID: id, URL: url})
}

// CreatePipeline handles POST /pipelines requests.
func (h *Handlers) CreatePipeline(w http.ResponseWriter, r *http.Request) {
	if h.pipelines == nil {
		writeUnavailable(w, "pipelines")
		return
	}
	var req CreatePipelineRequest
	if !h.decode(w, r, &req) {
		return
	}

	run, err := h.pipelines.Start(r.Context(), req.Input())
	switch {
	case errors.Is(err, pipeline.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error(), "FEATURE_UNAVAILABLE")
		return
	case errors.Is(err, pipeline.ErrShutdown):
		writeError(w, http.StatusServiceUnavailable, "server is shutting down", "SHUTTING_DOWN")
		return
	case err != nil:
		h.writeAppError(w, "failed to start pipeline", err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

// GetPipeline handles GET /pipelines/{id} requests.
func (h *Handlers) GetPipeline(w http.ResponseWriter, r *http.Request) {
	if h.pipelines == nil {
		writeUnavailable(w, "pipelines")
		return
	}
	run, err := h.pipelines.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeAppError(w, "failed to get pipeline", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListPipelines handles GET /pipelines requests.
func (h *Handlers) ListPipelines(w http.ResponseWriter, r *http.Request) {
	if h.pipelines == nil {
		writeUnavailable(w, "pipelines")
		return
	}
	runs, err := h.pipelines.List(r.Context())
	if err != nil {
		h.writeAppError(w, "failed to list pipelines", err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// Speech handles POST /speech requests and writes the audio bytes.
func (h *Handlers) Speech(w http.ResponseWriter, r *http.Request) {
	if h.speech == nil {
		writeUnavailable(w, "speech")
		return
	}
	var req SpeechRequest
	if !h.decode(w, r, &req) {
		return
	}

	text, err := speech.CheckText(req.Text)
	if err != nil {
		h.writeAppError(w, "invalid speech text", speechValidation(err))
		return
	}

	audio, err := h.speech.Synthesize(r.Context(), text, req.VoiceStyle)
	if err != nil {
		var pe *apperr.ProviderError
		switch {
		case errors.Is(err, speech.ErrTextRequired), errors.Is(err, speech.ErrTextTooLong):
			err = speechValidation(err)
		case !errors.As(err, &pe):
			err = apperr.NewProvider("speech", "synthesize", err)
		}
		h.writeAppError(w, "failed to synthesize speech", err)
		return
	}

	contentType := audio.ContentType
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(audio.Data)))
	if audio.Voice != "" {
		w.Header().Set("X-Voice", audio.Voice)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(audio.Data); err != nil {
		h.logger.Warn("failed to write audio response", slog.String("error", err.Error()))
	}
}

// parseSince reads the optional ?since=N query parameter.
func parseSince(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "since must be a non-negative integer", "VALIDATION_ERROR")
		return 0, false
	}
	return n, true
}

func speechValidation(err error) error {
	if errors.Is(err, speech.ErrTextRequired) {
		return apperr.NewValidation("text", "is required")
	}
	return apperr.NewValidation("text", fmt.Sprintf("must be at most %d characters", speech.MaxTextLength))
}

// Events handles GET /events?since=N requests.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeUnavailable(w, "events")
		return
	}
	since, ok := parseSince(w, r)
	if !ok {
		return
	}

	events := h.events.Since(since)
	resp := EventsResponse{Events: events, LastSeq: since}
	if len(events) > 0 {
		resp.LastSeq = events[len(events)-1].Seq
	}
	if resp.Events == nil {
		resp.Events = []notify.Event{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// sseHeartbeat keeps idle streams open through proxies.
const sseHeartbeat = 15 * time.Second

// EventStream handles GET /events/stream as server-sent events. With
// ?since=N the buffered events after N are replayed first.
func (h *Handlers) EventStream(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeUnavailable(w, "events")
		return
	}
	since, ok := parseSince(w, r)
	if !ok {
		return
	}
	replay := r.URL.Query().Has("since")

	// Subscribe before replaying so nothing published in between is lost.
	ch, unsubscribe := h.events.Subscribe(64)
	defer unsubscribe()

	rc := http.NewResponseController(w)
	// The server write timeout is sized for requests, not streams.
	_ = rc.SetWriteDeadline(time.Time{})

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	last := since
	send := func(ev notify.Event) bool {
		if ev.Seq <= last {
			return true
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return true
		}
		if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, data); err != nil {
			return false
		}
		last = ev.Seq
		return rc.Flush() == nil
	}

	if replay {
		for _, ev := range h.events.Since(since) {
			if !send(ev) {
				return
			}
		}
	}
	if rc.Flush() != nil {
		return
	}

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil || rc.Flush() != nil {
				return
			}
		case ev, open := <-ch:
			if !open || !send(ev) {
				return
			}
		}
	}
}

// Capabilities handles GET /capabilities requests.
func (h *Handlers) Capabilities(w http.ResponseWriter, _ *http.Request) {
	resp := CapabilitiesResponse{
		Pipelines: []pipeline.Kind{},
		Providers: []string{},
		Speech:    h.speech != nil,
	}
	if h.pipelines != nil {
		resp.Pipelines = append(resp.Pipelines, h.pipelines.Available()...)
	}
	if h.registry != nil {
		resp.Providers = h.registry.Names()
	}
	if h.speech != nil {
		resp.VoiceStyles = speech.Styles()
	}
	writeJSON(w, http.StatusOK, resp)
}

// File handles GET /files/{key...} requests.
func (h *Handlers) File(w http.ResponseWriter, r *http.Request) {
	if h.files == nil {
		writeUnavailable(w, "files")
		return
	}
	key := r.PathValue("key")
	f, err := h.files.Open(key)
	switch {
	case errors.Is(err, storage.ErrInvalidKey):
		writeError(w, http.StatusBadRequest, "invalid file key", "VALIDATION_ERROR")
		return
	case errors.Is(err, fs.ErrNotExist):
		writeError(w, http.StatusNotFound, "file not found", "NOT_FOUND")
		return
	case err != nil:
		h.logger.Error("failed to open file", slog.String("key", key), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to open file", "INTERNAL_ERROR")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "file not found", "NOT_FOUND")
		return
	}
	if ct := storage.ContentTypeFor(key); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	http.ServeContent(w, r, path.Base(key), info.ModTime(), f)
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

// writeAppError maps err through apperr. Internal errors are logged and
// hidden from the client.
func (h *Handlers) writeAppError(w http.ResponseWriter, msg string, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		h.logger.Error(msg, slog.String("error", err.Error()))
		writeError(w, status, msg, apperr.Code(err))
		return
	}
	h.logger.Warn(msg,
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)
	writeError(w, status, err.Error(), apperr.Code(err))
}

func videoResponse(j *job.Job) VideoResponse {
	j = j.Clone()
	resp := VideoResponse{
		ID:          j.ID,
		Kind:        string(j.Kind),
		Provider:    j.Provider,
		Prompt:      j.Prompt,
		Status:      string(j.Status),
		Progress:    j.Progress,
		ResultURL:   j.ResultURL,
		Error:       j.ErrorMessage,
		ImageURL:    j.ImageURL,
		EndImageURL: j.EndImageURL,
		Duration:    j.Duration,
		BatchID:     j.BatchID,
		PipelineID:  j.PipelineID,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
	if !j.CompletedAt.IsZero() {
		completed := j.CompletedAt
		resp.CompletedAt = &completed
	}
	return resp
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func writeUnavailable(w http.ResponseWriter, feature string) {
	writeError(w, http.StatusServiceUnavailable, feature+" not configured", "FEATURE_UNAVAILABLE")
}
