package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/galaxy-atlas/server/internal/galaxy"
	"github.com/galaxy-atlas/server/internal/reconcile"
	"github.com/galaxy-atlas/server/internal/render"
	"github.com/galaxy-atlas/server/internal/service"
	"github.com/galaxy-atlas/server/internal/store"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Galaxy      *service.GalaxyService
	Reconcile   *service.ReconcileService
	JobManager  *JobManager
	CORSOrigins []string
	Title       string
	MapSize     int // default map.png size
	BatchSize   int // default sweep batch size
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	if cfg.MapSize <= 0 {
		cfg.MapSize = 1024
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = reconcile.DefaultBatchSize
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/info", infoHandler(cfg.Title))

		r.Get("/regions", regionsHandler(cfg.Galaxy))
		r.Get("/regions/{name}", regionHandler(cfg.Galaxy))
		r.Post("/coordinates/preview", previewHandler(cfg.Galaxy))
		r.Get("/systems", systemsHandler(cfg.Galaxy))
		r.Get("/systems/{id}", systemHandler(cfg.Galaxy))
		r.Get("/galaxy/map.png", mapHandler(cfg.Galaxy, cfg.MapSize))

		r.Route("/reconcile", func(r chi.Router) {
			r.Get("/status", statusHandler(cfg.Reconcile))
			r.Post("/batch", batchHandler(cfg.Reconcile))
			r.Get("/validate", validateHandler(cfg.Reconcile))

			r.Route("/sweeps", func(r chi.Router) {
				r.Post("/", sweepSubmitHandler(cfg.JobManager, cfg.BatchSize))
				r.Get("/", sweepListHandler(cfg.JobManager))
				r.Get("/{job_id}", sweepStatusHandler(cfg.JobManager))
				r.Delete("/{job_id}", sweepCancelHandler(cfg.JobManager))
			})
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeRawJSON(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func infoHandler(title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"title":             title,
			"lightYearsPerUnit": galaxy.LightYearsPerUnit,
		})
	}
}

func regionsHandler(svc *service.GalaxyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := svc.RegionsJSON(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeRawJSON(w, data)
	}
}

func regionHandler(svc *service.GalaxyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		profile, ok := svc.Region(name)
		if !ok {
			http.Error(w, "region not found: "+name, http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	}
}

func previewHandler(svc *service.GalaxyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.PreviewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}

		data, err := svc.PreviewJSON(req)
		switch {
		case errors.Is(err, galaxy.ErrUnparseableGridCode):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		case errors.Is(err, service.ErrInvalidInput):
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		case err != nil:
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeRawJSON(w, data)
	}
}

func systemsHandler(svc *service.GalaxyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryInt(r, "limit", 100)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		offset, err := queryInt(r, "offset", 0)
		if err != nil {
			http.Error(w, "invalid offset", http.StatusBadRequest)
			return
		}
		region := strings.TrimSpace(r.URL.Query().Get("region"))

		data, err := svc.SystemsJSON(r.Context(), region, limit, offset)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, service.ErrInvalidInput) {
				status = http.StatusBadRequest
			}
			http.Error(w, err.Error(), status)
			return
		}
		writeRawJSON(w, data)
	}
}

func systemHandler(svc *service.GalaxyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		sys, err := svc.System(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "system not found: "+id, http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, sys)
	}
}

func mapHandler(svc *service.GalaxyService, defaultSize int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		size, err := queryInt(r, "size", defaultSize)
		if err != nil {
			http.Error(w, "invalid size", http.StatusBadRequest)
			return
		}
		colorBy, err := render.ParseColorBy(r.URL.Query().Get("color"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		data, err := svc.MapPNG(r.Context(), size, colorBy, r.URL.Query().Get("colormap"))
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, service.ErrInvalidInput) {
				status = http.StatusBadRequest
			}
			http.Error(w, err.Error(), status)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(data)
	}
}

func statusHandler(svc *service.ReconcileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := svc.Status(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

type batchRequest struct {
	reconcile.BatchRequest
	Confirm bool `json:"confirm"`
}

// batchResponse carries the batch fields next to success, the shape the map UI reads.
type batchResponse struct {
	Success bool   `json:"success"`
	Warning string `json:"warning,omitempty"`
	*reconcile.BatchResult
}

// batchHandler runs one reconcile batch synchronously.
func batchHandler(svc *service.ReconcileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]interface{}{
					"success": false,
					"error":   "invalid request body: " + err.Error(),
				})
				return
			}
		}
		if req.ForceRecompute && !req.Confirm {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"success": false,
				"error":   "forceRecompute overwrites computed coordinates; set confirm to true",
			})
			return
		}

		res, err := svc.RunBatch(r.Context(), req.BatchRequest)
		switch {
		case errors.Is(err, reconcile.ErrInvalidRequest):
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": err.Error()})
			return
		case errors.Is(err, reconcile.ErrFetch):
			writeJSON(w, http.StatusBadGateway, map[string]interface{}{"success": false, "error": err.Error()})
			return
		case errors.Is(err, reconcile.ErrCount) && res != nil:
			// The writes happened; report them with the counting failure.
			writeJSON(w, http.StatusOK, batchResponse{Success: true, Warning: err.Error(), BatchResult: res})
			return
		case err != nil:
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, batchResponse{Success: true, BatchResult: res})
	}
}

func validateHandler(svc *service.ReconcileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := svc.Validate(r.Context())
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, reconcile.ErrFetch) {
				status = http.StatusBadGateway
			}
			http.Error(w, err.Error(), status)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": report.OK(), "report": report})
	}
}

type sweepSubmitRequest struct {
	BatchSize      int  `json:"batchSize"`
	ForceRecompute bool `json:"forceRecompute"`
	Confirm        bool `json:"confirm"`
}

func sweepSubmitHandler(jm *JobManager, defaultBatch int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		var req sweepSubmitRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
				return
			}
		}
		if req.BatchSize == 0 {
			req.BatchSize = defaultBatch
		}
		if req.BatchSize < 1 || req.BatchSize > reconcile.MaxBatchSize {
			http.Error(w, "batchSize must be in 1.."+strconv.Itoa(reconcile.MaxBatchSize), http.StatusBadRequest)
			return
		}
		if req.ForceRecompute && !req.Confirm {
			http.Error(w, "forceRecompute overwrites every computed coordinate; set confirm to true", http.StatusBadRequest)
			return
		}

		job, err := jm.Submit(store.SweepParams{BatchSize: req.BatchSize, ForceRecompute: req.ForceRecompute})
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrQueueFull) || errors.Is(err, ErrStopped) {
				status = http.StatusServiceUnavailable
			}
			http.Error(w, "failed to submit job: "+err.Error(), status)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"job_id": job.ID,
			"status": job.Status,
		})
	}
}

func sweepListHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}
		limit, err := queryInt(r, "limit", 20)
		if err != nil || limit < 1 || limit > 200 {
			http.Error(w, "limit must be in 1..200", http.StatusBadRequest)
			return
		}
		jobs, err := jm.List(limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if jobs == nil {
			jobs = []*store.SweepJob{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
	}
}

func sweepStatusHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		jobID := chi.URLParam(r, "job_id")
		job := jm.Get(jobID)
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

// sweepCancelHandler cancels an active sweep, or deletes the record of a finished one.
func sweepCancelHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}

		jobID := chi.URLParam(r, "job_id")
		job := jm.Get(jobID)
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}

		if job.Status.Terminal() {
			if err := jm.Delete(jobID); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{"job_id": jobID, "deleted": true})
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"job_id":    jobID,
			"cancelled": jm.Cancel(jobID),
		})
	}
}
