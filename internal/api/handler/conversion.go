package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/hszk-dev/hlsforge/internal/api/middleware"
	"github.com/hszk-dev/hlsforge/internal/domain/model"
	"github.com/hszk-dev/hlsforge/internal/domain/repository"
	"github.com/hszk-dev/hlsforge/internal/infrastructure/cache"
	"github.com/hszk-dev/hlsforge/internal/playlist"
	"github.com/hszk-dev/hlsforge/internal/usecase"
)

// Request/Response types

type SubmitConversionRequest struct {
	InputPath string          `json:"input_path,omitempty"`
	InputKey  string          `json:"input_key,omitempty"`
	OutputDir string          `json:"output_dir"`
	Options   json.RawMessage `json:"options,omitempty"`
	Exclude   []string        `json:"exclude,omitempty"`
}

type ConversionResponse struct {
	ID           string   `json:"id"`
	Status       string   `json:"status"`
	InputPath    string   `json:"input_path,omitempty"`
	InputKey     string   `json:"input_key,omitempty"`
	OutputDir    string   `json:"output_dir"`
	Encoder      string   `json:"encoder,omitempty"`
	Renditions   []string `json:"renditions,omitempty"`
	PlaylistURL  string   `json:"playlist_url,omitempty"`
	ErrorKind    string   `json:"error_kind,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}

type ListConversionsResponse struct {
	Conversions []ConversionResponse `json:"conversions"`
}

type ProgressResponse struct {
	ID        string  `json:"id"`
	Status    string  `json:"status"`
	Stage     string  `json:"stage,omitempty"`
	Percent   float64 `json:"percent"`
	Rendition string  `json:"rendition,omitempty"`
	Message   string  `json:"message,omitempty"`
	UpdatedAt string  `json:"updated_at"`
}

// ConversionHandler handles conversion job HTTP requests.
type ConversionHandler struct {
	svc usecase.ConversionService
	// playlistBaseURL prefixes the published object prefix. Empty omits playlist URLs.
	playlistBaseURL string

	defaults       model.ConversionOptions
	defaultExclude []string

	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewConversionHandler creates a new ConversionHandler.
func NewConversionHandler(svc usecase.ConversionService, playlistBaseURL string) *ConversionHandler {
	return &ConversionHandler{
		svc:             svc,
		playlistBaseURL: strings.TrimRight(playlistBaseURL, "/"),
		defaults:        model.DefaultConversionOptions(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: slog.Default(),
	}
}

// WithLogger sets the logger used for request failures.
func (h *ConversionHandler) WithLogger(logger *slog.Logger) *ConversionHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithAllowedOrigins accepts event stream upgrades from the same browser
// origins the CORS policy admits. Without it only same-origin upgrades pass.
func (h *ConversionHandler) WithAllowedOrigins(origins []string) *ConversionHandler {
	policy := cors.New(cors.Options{AllowedOrigins: origins})
	h.upgrader.CheckOrigin = func(r *http.Request) bool {
		// Non-browser clients send no Origin header.
		if r.Header.Get("Origin") == "" {
			return true
		}
		return policy.OriginAllowed(r)
	}
	return h
}

// WithDefaults sets the options and exclusions used when a request omits them.
func (h *ConversionHandler) WithDefaults(opts model.ConversionOptions, exclude []model.Rendition) *ConversionHandler {
	h.defaults = opts
	h.defaultExclude = make([]string, 0, len(exclude))
	for _, r := range exclude {
		h.defaultExclude = append(h.defaultExclude, r.Label())
	}
	return h
}

// Submit handles POST /v1/conversions
func (h *ConversionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitConversionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, r, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	opts, err := decodeOptions(req.Options, h.defaults)
	if err != nil {
		Error(w, r, http.StatusBadRequest, "invalid_options", "Options must be a JSON object")
		return
	}
	if req.Exclude == nil {
		req.Exclude = h.defaultExclude
	}

	job, err := h.svc.Submit(r.Context(), usecase.SubmitInput{
		InputPath: req.InputPath,
		InputKey:  req.InputKey,
		OutputDir: req.OutputDir,
		Options:   opts,
		Excluded:  req.Exclude,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	JSON(w, http.StatusCreated, h.toConversionResponse(job))
}

// List handles GET /v1/conversions
func (h *ConversionHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			Error(w, r, http.StatusBadRequest, "invalid_limit", "Limit must be a positive integer")
			return
		}
		limit = n
	}

	jobs, err := h.svc.List(r.Context(), limit)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	resp := ListConversionsResponse{Conversions: make([]ConversionResponse, 0, len(jobs))}
	for _, job := range jobs {
		resp.Conversions = append(resp.Conversions, h.toConversionResponse(job))
	}
	JSON(w, http.StatusOK, resp)
}

// Get handles GET /v1/conversions/{id}
func (h *ConversionHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}

	job, err := h.svc.Get(r.Context(), jobID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	JSON(w, http.StatusOK, h.toConversionResponse(job))
}

// Progress handles GET /v1/conversions/{id}/progress
func (h *ConversionHandler) Progress(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}

	snap, err := h.svc.Progress(r.Context(), jobID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	JSON(w, http.StatusOK, toProgressResponse(snap))
}

// Cancel handles POST /v1/conversions/{id}/cancel
func (h *ConversionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Cancel(r.Context(), jobID); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// Cleanup handles POST /v1/conversions/{id}/cleanup
func (h *ConversionHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Cleanup(r.Context(), jobID); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *ConversionHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repository.ErrJobNotFound):
		Error(w, r, http.StatusNotFound, "job_not_found", "Conversion job not found")
	case errors.Is(err, usecase.ErrOutputDirBusy):
		Error(w, r, http.StatusConflict, "output_dir_busy", "Another active job writes to this output directory")
	case errors.Is(err, usecase.ErrJobNotActive):
		Error(w, r, http.StatusConflict, "job_not_active", "Conversion job is no longer queued or processing")
	case errors.Is(err, model.ErrJobNotCleanable):
		Error(w, r, http.StatusConflict, "job_not_cleanable", "Conversion job is still running")
	case errors.Is(err, model.ErrMissingInput), errors.Is(err, model.ErrAmbiguousInput):
		Error(w, r, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, model.ErrRelativeInputPath):
		Error(w, r, http.StatusBadRequest, "invalid_input", "Input path must be absolute")
	case errors.Is(err, model.ErrPathOutsideRoot):
		Error(w, r, http.StatusBadRequest, "path_not_allowed", err.Error())
	case errors.Is(err, model.ErrInvalidOutputDir):
		Error(w, r, http.StatusBadRequest, "invalid_output_dir", "Output directory must be an absolute path")
	case errors.Is(err, model.ErrInvalidOptions), errors.Is(err, model.ErrUnknownRendition):
		Error(w, r, http.StatusBadRequest, "invalid_options", err.Error())
	default:
		middleware.RequestLogger(r.Context(), h.logger).Error("conversion request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		Error(w, r, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}

func parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		Error(w, r, http.StatusBadRequest, "invalid_job_id", "Job ID must be a valid UUID")
		return uuid.Nil, false
	}
	return jobID, true
}

// decodeOptions overlays the request options on base. A thumbnail or
// subtitle section present in the request starts from base's section, or from
// the package defaults when base has none.
func decodeOptions(raw json.RawMessage, base model.ConversionOptions) (model.ConversionOptions, error) {
	opts := base
	if len(raw) == 0 || string(raw) == "null" {
		return opts, nil
	}

	var sections map[string]json.RawMessage
	if err := json.Unmarshal(raw, &sections); err != nil {
		return opts, err
	}

	thumbs := model.DefaultThumbnailOptions()
	if base.Thumbnails != nil {
		thumbs = *base.Thumbnails
	}
	subs := model.DefaultSubtitleOptions()
	if base.Subtitles != nil {
		subs = *base.Subtitles
		subs.External = append([]model.ExternalSubtitle(nil), base.Subtitles.External...)
	}
	opts.Thumbnails = &thumbs
	opts.Subtitles = &subs
	if err := json.Unmarshal(raw, &opts); err != nil {
		return base, err
	}
	if _, ok := sections["thumbnails"]; !ok {
		opts.Thumbnails = base.Thumbnails
	}
	if _, ok := sections["subtitles"]; !ok {
		opts.Subtitles = base.Subtitles
	}
	return opts, nil
}

func (h *ConversionHandler) toConversionResponse(job *model.ConversionJob) ConversionResponse {
	resp := ConversionResponse{
		ID:           job.ID.String(),
		Status:       job.Status.String(),
		InputPath:    job.InputPath,
		InputKey:     job.InputKey,
		OutputDir:    job.OutputDir,
		Encoder:      string(job.Encoder),
		Renditions:   job.Renditions,
		ErrorKind:    job.ErrorKind,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    job.UpdatedAt.Format(time.RFC3339),
	}
	if h.playlistBaseURL != "" && job.PublishedPrefix != "" && job.Status == model.StatusCompleted {
		resp.PlaylistURL = h.playlistBaseURL + "/" + job.PublishedPrefix + "/" + playlist.MasterName
	}
	return resp
}

func toProgressResponse(snap *cache.ProgressSnapshot) ProgressResponse {
	return ProgressResponse{
		ID:        snap.JobID.String(),
		Status:    snap.Status.String(),
		Stage:     snap.Stage,
		Percent:   percent(snap.Progress),
		Rendition: snap.Rendition,
		Message:   snap.Message,
		UpdatedAt: snap.UpdatedAt.Format(time.RFC3339),
	}
}

// percent converts a [0,1] fraction to a percentage with one decimal.
func percent(fraction float64) float64 {
	return math.Round(fraction*1000) / 10
}
