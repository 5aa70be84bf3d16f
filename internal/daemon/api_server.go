package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"corral/internal/api"
	"corral/internal/config"
	"corral/internal/export"
	"corral/internal/jobs"
	"corral/internal/logging"
	"corral/internal/services"
)

type apiServer struct {
	bind   string
	token  string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		token:  cfg.Paths.APIToken,
		logger: logger,
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", srv.handleHealth)
	mux.HandleFunc("/api/status", srv.auth(srv.handleStatus))
	mux.HandleFunc("/api/jobs", srv.auth(srv.handleJobs))
	mux.HandleFunc("/api/jobs/", srv.auth(srv.handleJob))
	mux.HandleFunc("/api/identities", srv.auth(srv.handleIdentities))
	mux.HandleFunc("/api/identities/", srv.auth(srv.handleIdentity))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) auth(next http.HandlerFunc) http.HandlerFunc {
	return authMiddleware(s.token, next)
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// handleHealth is unauthenticated so load balancers can probe it.
func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	counts := make(map[string]int, len(status.Jobs))
	for jobStatus, count := range status.Jobs {
		counts[string(jobStatus)] = count
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"running":  status.Running,
		"pid":      status.PID,
		"dbPath":   status.DBPath,
		"lockFile": status.LockFilePath,
		"workers":  status.Workers,
		"jobs":     counts,
	})
}

type submitJobPayload struct {
	IdentityID    string   `json:"identityId"`
	Mode          string   `json:"mode"`
	WindowFrom    string   `json:"windowFrom"`
	WindowTo      string   `json:"windowTo"`
	NoRender      bool     `json:"noRender,omitempty"`
	NoDedupe      bool     `json:"noDedupe,omitempty"`
	Padding       *float64 `json:"paddingSeconds,omitempty"`
	MergeGap      *float64 `json:"mergeGapSeconds,omitempty"`
	MinDuration   *float64 `json:"minDurationSeconds,omitempty"`
	TargetSeconds *float64 `json:"targetSeconds,omitempty"`
	PerClipCap    *float64 `json:"perClipSeconds,omitempty"`
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var statuses []jobs.Status
		for _, value := range r.URL.Query()["status"] {
			status, err := jobs.ParseStatus(value)
			if err != nil {
				s.writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			statuses = append(statuses, status)
		}
		list, err := s.daemon.jobStore.List(r.Context(), statuses...)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		views := make([]api.JobView, 0, len(list))
		for _, job := range list {
			views = append(views, api.FromJob(job))
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"jobs": views})
	case http.MethodPost:
		var payload submitJobPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		windowFrom, err := time.Parse(time.RFC3339, payload.WindowFrom)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid windowFrom")
			return
		}
		windowTo, err := time.Parse(time.RFC3339, payload.WindowTo)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid windowTo")
			return
		}
		result, err := api.SubmitExportUsing(r.Context(), s.daemon.store, api.SubmitExportRequest{
			Config:        s.daemon.cfg,
			IdentityID:    payload.IdentityID,
			Mode:          payload.Mode,
			WindowFrom:    windowFrom,
			WindowTo:      windowTo,
			NoRender:      payload.NoRender,
			NoDedupe:      payload.NoDedupe,
			Padding:       payload.Padding,
			MergeGap:      payload.MergeGap,
			MinDuration:   payload.MinDuration,
			TargetSeconds: payload.TargetSeconds,
			PerClipCap:    payload.PerClipCap,
		})
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		code := http.StatusOK
		if result.Created {
			code = http.StatusCreated
		}
		s.writeJSON(w, code, result)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	jobID, action := splitResource(r.URL.Path, "/api/jobs/")
	if jobID == "" {
		s.writeError(w, http.StatusNotFound, "job id required")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		job, err := s.daemon.jobStore.Get(r.Context(), jobID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, api.FromJob(job))
	case action == "cancel" && r.Method == http.MethodPost:
		job, err := s.daemon.jobStore.RequestCancel(r.Context(), jobID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, api.FromJob(job))
	case action == "retry" && r.Method == http.MethodPost:
		job, err := s.daemon.jobStore.Retry(r.Context(), jobID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, api.FromJob(job))
	case action == "manifest" && r.Method == http.MethodGet:
		job, err := s.daemon.jobStore.Get(r.Context(), jobID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		if job.ManifestPath == "" {
			s.writeError(w, http.StatusNotFound, "job has no manifest yet")
			return
		}
		manifest, err := export.LoadManifest(job.ManifestPath)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, manifest)
	case action == "artifact" && r.Method == http.MethodGet:
		job, err := s.daemon.jobStore.Get(r.Context(), jobID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		if job.ArtifactPath == "" {
			s.writeError(w, http.StatusNotFound, "job has no rendered artifact")
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		http.ServeFile(w, r, job.ArtifactPath)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleIdentities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	identities, err := s.daemon.store.ListIdentities(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	views := make([]api.IdentityView, 0, len(identities))
	for _, id := range identities {
		views = append(views, api.FromIdentity(id))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"identities": views})
}

type bindPayload struct {
	SubjectID string `json:"subjectId"`
}

func (s *apiServer) handleIdentity(w http.ResponseWriter, r *http.Request) {
	identityID, action := splitResource(r.URL.Path, "/api/identities/")
	if identityID == "" {
		s.writeError(w, http.StatusNotFound, "identity id required")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		identity, err := s.daemon.store.GetIdentity(r.Context(), identityID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		if identity == nil {
			s.writeError(w, http.StatusNotFound, "identity not found")
			return
		}
		associations, err := s.daemon.store.AssociationsForIdentity(r.Context(), identityID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		detail := api.IdentityDetail{Identity: api.FromIdentity(identity)}
		for _, assoc := range associations {
			detail.Associations = append(detail.Associations, api.FromAssociation(assoc))
		}
		s.writeJSON(w, http.StatusOK, detail)
	case (action == "confirm" || action == "rebind") && r.Method == http.MethodPost:
		var payload bindPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || strings.TrimSpace(payload.SubjectID) == "" {
			s.writeError(w, http.StatusBadRequest, "subjectId required")
			return
		}
		var err error
		if action == "confirm" {
			err = s.daemon.store.ConfirmBinding(r.Context(), identityID, payload.SubjectID)
		} else {
			err = s.daemon.store.RebindIdentity(r.Context(), identityID, payload.SubjectID)
		}
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		identity, err := s.daemon.store.GetIdentity(r.Context(), identityID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		if identity == nil {
			s.writeError(w, http.StatusNotFound, "identity not found")
			return
		}
		s.writeJSON(w, http.StatusOK, api.FromIdentity(identity))
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func splitResource(path, prefix string) (id, action string) {
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return "", ""
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrConfiguration):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
