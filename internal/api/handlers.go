package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pi-cam-service/picamd/internal/bus"
	"github.com/pi-cam-service/picamd/internal/camera"
	"github.com/pi-cam-service/picamd/internal/events"
	"github.com/pi-cam-service/picamd/internal/logging"
	"github.com/pi-cam-service/picamd/internal/reconfig"
	"github.com/pi-cam-service/picamd/internal/streaming"
	"github.com/pi-cam-service/picamd/internal/system"
)

// Publisher pushes control events onto the bus. Nil drops them.
type Publisher interface {
	Publish(subject string, v any) error
}

// Server holds the handler dependencies. Everything is injected; the
// package keeps no global state.
type Server struct {
	Version     string
	APIKey      string
	CORSOrigins []string

	Controller *reconfig.Controller
	Camera     *camera.Resource
	Streaming  *streaming.Resource
	Events     *events.Service
	Monitor    *system.Monitor
	Logs       *logging.RingBuffer
	Hub        *Hub
	Bus        Publisher
}

// Routes builds the chi router for the full HTTP surface.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key"},
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(APIKeyAuth(s.APIKey))

		r.Route("/camera", func(r chi.Router) {
			r.Get("/status", s.handleCameraStatus)
			r.Get("/capabilities", s.handleCapabilities)
			r.Post("/resolution", s.handleSetResolution)
			r.Post("/framerate", s.handleSetFramerate)
			r.Get("/fov_mode", s.handleGetFOVMode)
			r.Post("/fov_mode", s.handleSetFOVMode)

			r.Post("/auto_exposure", control[camera.AutoExposure](s))
			r.Post("/manual_exposure", control[camera.ManualExposure](s))
			r.Post("/exposure_value", control[camera.ExposureValue](s))
			r.Post("/awb", control[camera.AutoWhiteBalance](s))
			r.Post("/awb_mode", control[camera.AWBMode](s))
			r.Post("/manual_awb", control[camera.ManualAWB](s))
			r.Post("/noise_reduction", control[camera.NoiseReduction](s))
			r.Post("/hdr", control[camera.HDR](s))
			r.Post("/roi", control[camera.ROI](s))
			r.Post("/image_processing", control[camera.ImageAdjust](s))
			r.Post("/autofocus_mode", control[camera.AutofocusMode](s))
			r.Post("/lens_position", control[camera.LensPosition](s))
			r.Post("/autofocus_trigger", control[camera.AutofocusTrigger](s))
			r.Post("/transform", control[camera.Transform](s))
		})

		r.Route("/streaming", func(r chi.Router) {
			r.Post("/start", s.handleStreamingStart)
			r.Post("/stop", s.handleStreamingStop)
		})

		r.Get("/system/status", s.handleSystemStatus)
		r.Get("/events", s.handleListEvents)
		r.Get("/events/ws", s.Hub.HandleWebSocket)
		r.Get("/logs", s.handleLogs)
	})

	return r
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeDomainError maps typed domain errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error, details any) {
	var rerr *reconfig.Error
	switch {
	case camera.IsValidation(err):
		Error(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, camera.ErrNotAvailable):
		Error(w, http.StatusServiceUnavailable, "CAMERA_UNAVAILABLE", err.Error())
	case camera.IsHardware(err):
		Error(w, http.StatusBadGateway, "HARDWARE_ERROR", err.Error())
	case errors.Is(err, reconfig.ErrBusy):
		Error(w, http.StatusConflict, "RECONFIGURATION_BUSY", err.Error())
	case errors.As(err, &rerr):
		code := "RECONFIGURATION_FAILED"
		if rerr.Stage == reconfig.StageStartStream {
			code = "STREAMING_START_FAILED"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(Response{
			Success: false,
			Error: &ErrorInfo{
				Code:    code,
				Message: err.Error(),
				Details: details,
			},
		})
	default:
		InternalError(w, err.Error())
	}
}

type resolutionRequest struct {
	Width            int      `json:"width"`
	Height           int      `json:"height"`
	Framerate        *float64 `json:"framerate,omitempty"`
	FOVMode          *string  `json:"fov_mode,omitempty"`
	RestartStreaming *bool    `json:"restart_streaming,omitempty"`
}

func (s *Server) handleSetResolution(w http.ResponseWriter, r *http.Request) {
	var req resolutionRequest
	if err := decode(r, &req); err != nil {
		BadRequest(w, "invalid request body: "+err.Error())
		return
	}

	creq := reconfig.Request{
		Width:     req.Width,
		Height:    req.Height,
		Framerate: req.Framerate,
	}
	if req.FOVMode != nil {
		fov, err := camera.ParseFOVMode(*req.FOVMode)
		if err != nil {
			writeDomainError(w, err, nil)
			return
		}
		creq.FOVMode = &fov
	}
	if req.RestartStreaming != nil && !*req.RestartStreaming {
		creq.KeepStreamingDown = true
	}

	res, err := s.Controller.Apply(r.Context(), creq)
	if err != nil {
		writeDomainError(w, err, res)
		return
	}
	OK(w, res)
}

type framerateRequest struct {
	Framerate        float64 `json:"framerate"`
	RestartStreaming *bool   `json:"restart_streaming,omitempty"`
}

func (s *Server) handleSetFramerate(w http.ResponseWriter, r *http.Request) {
	var req framerateRequest
	if err := decode(r, &req); err != nil {
		BadRequest(w, "invalid request body: "+err.Error())
		return
	}

	creq := reconfig.Request{Framerate: &req.Framerate}
	if req.RestartStreaming != nil && !*req.RestartStreaming {
		creq.KeepStreamingDown = true
	}

	res, err := s.Controller.Apply(r.Context(), creq)
	if err != nil {
		writeDomainError(w, err, res)
		return
	}
	OK(w, res)
}

func (s *Server) handleGetFOVMode(w http.ResponseWriter, r *http.Request) {
	OK(w, map[string]any{
		"fov_mode":   s.Camera.FOVMode(),
		"wide_angle": s.Camera.WideAngle(),
	})
}

type fovModeRequest struct {
	FOVMode string `json:"fov_mode"`
}

func (s *Server) handleSetFOVMode(w http.ResponseWriter, r *http.Request) {
	var req fovModeRequest
	if err := decode(r, &req); err != nil {
		BadRequest(w, "invalid request body: "+err.Error())
		return
	}

	fov, err := camera.ParseFOVMode(req.FOVMode)
	if err != nil {
		writeDomainError(w, err, nil)
		return
	}

	res, err := s.Controller.Apply(r.Context(), reconfig.Request{FOVMode: &fov})
	if err != nil {
		writeDomainError(w, err, res)
		return
	}
	OK(w, res)
}

func (s *Server) handleCameraStatus(w http.ResponseWriter, r *http.Request) {
	OK(w, map[string]any{
		"camera":    s.Camera.Snapshot(),
		"streaming": s.Streaming.Status(),
	})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	OK(w, s.Camera.Capabilities())
}

// control builds a handler that decodes, validates and applies one typed
// camera control.
func control[C camera.Control](s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var c C
		if r.ContentLength != 0 {
			if err := decode(r, &c); err != nil {
				BadRequest(w, "invalid request body: "+err.Error())
				return
			}
		}

		if err := s.Camera.Apply(c); err != nil {
			writeDomainError(w, err, nil)
			return
		}

		if s.Bus != nil {
			_ = s.Bus.Publish(bus.SubjectCameraControl, map[string]any{
				"control": c.Name(),
				"value":   c,
			})
		}
		OK(w, map[string]any{"control": c.Name(), "applied": true})
	}
}

func (s *Server) handleStreamingStart(w http.ResponseWriter, r *http.Request) {
	cfg, configured := s.Camera.Config()
	if !configured {
		writeDomainError(w, camera.ErrNotAvailable, nil)
		return
	}

	bitrate := camera.Bitrate(cfg.Width, cfg.Height, cfg.Framerate)
	if err := s.Streaming.Start(r.Context(), bitrate); err != nil {
		Error(w, http.StatusBadGateway, "STREAMING_START_FAILED", err.Error())
		return
	}
	OK(w, s.Streaming.Status())
}

func (s *Server) handleStreamingStop(w http.ResponseWriter, r *http.Request) {
	if err := s.Streaming.Stop(); err != nil {
		Error(w, http.StatusBadGateway, "STREAMING_STOP_FAILED", err.Error())
		return
	}
	OK(w, s.Streaming.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.Camera.Snapshot()
	OK(w, map[string]any{
		"status":            "ok",
		"version":           s.Version,
		"camera_configured": snap.Configured,
		"streaming":         s.Streaming.IsRunning(),
	})
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status := s.Monitor.Status(ctx)
	OK(w, map[string]any{
		"system":                 status,
		"service_uptime_seconds": s.Monitor.ServiceUptime().Seconds(),
		"websocket_clients":      s.Hub.ClientCount(),
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	opts := events.ListOptions{}
	q := r.URL.Query()

	if v := q.Get("type"); v != "" {
		opts.Type = events.Type(v)
	}
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			BadRequest(w, "start must be RFC3339")
			return
		}
		opts.StartTime = t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			BadRequest(w, "end must be RFC3339")
			return
		}
		opts.EndTime = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			BadRequest(w, "limit must be a positive integer")
			return
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			BadRequest(w, "offset must be a non-negative integer")
			return
		}
		opts.Offset = n
	}

	list, total, err := s.Events.List(r.Context(), opts)
	if err != nil {
		InternalError(w, err.Error())
		return
	}
	JSONWithMeta(w, http.StatusOK, list, &Meta{
		Total:  total,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	OK(w, s.Logs.Recent(limit))
}
