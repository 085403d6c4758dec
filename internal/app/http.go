package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"pipemate/api/internal/block"
	"pipemate/api/internal/content"
	"pipemate/api/internal/githubapi"
	"pipemate/api/internal/search"
	"pipemate/api/internal/store"
	"pipemate/api/internal/util"
	"pipemate/api/internal/workflow"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	switch parts[1] {
	case "pipelines":
		s.handlePipelines(w, r, parts[2:])
	case "presets":
		s.handlePresets(w, r, parts[2:])
	case "github":
		s.handleGitHub(w, r, parts[2:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	if enabled, err := s.service.PingCache(ctx); enabled {
		checks["cache"] = map[string]any{"status": "ok"}
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["cache"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handlePipelines(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 1 && parts[0] == "convert" && r.Method == http.MethodPost {
		var body struct {
			Blocks json.RawMessage `json:"blocks"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.ConvertBlocks(r.Context(), body.Blocks)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 2 && parts[1] == "record" && r.Method == http.MethodGet {
		record, err := s.service.GetPipelineRecord(r.Context(), r.URL.Query().Get("owner"), r.URL.Query().Get("repo"), parts[0])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
		return
	}

	if len(parts) == 1 && parts[0] == "parse" && r.Method == http.MethodPost {
		var body struct {
			YAML string `json:"yaml"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		blocks, err := s.service.ParseWorkflow(r.Context(), body.YAML)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"blocks": blocks})
		return
	}

	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}

	if len(parts) == 2 && parts[1] == "history" && r.Method == http.MethodGet {
		query := r.URL.Query()
		limit, _ := strconv.Atoi(query.Get("limit"))
		history, err := s.service.PipelineHistory(r.Context(), query.Get("owner"), query.Get("repo"), parts[0], token, limit)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"history": history})
		return
	}

	if len(parts) == 0 {
		if r.Method != http.MethodPost && r.Method != http.MethodPut {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var body PipelineRequest
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		var (
			payload Pipeline
			err     error
			status  = http.StatusOK
		)
		if r.Method == http.MethodPost {
			payload, err = s.service.CreatePipeline(r.Context(), body, token)
			status = http.StatusCreated
		} else {
			payload, err = s.service.UpdatePipeline(r.Context(), body, token)
		}
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, status, payload)
		return
	}

	if len(parts) == 1 {
		name := parts[0]
		owner, repo := r.URL.Query().Get("owner"), r.URL.Query().Get("repo")
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetPipeline(r.Context(), owner, repo, name, token)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodDelete:
			if err := s.service.DeletePipeline(r.Context(), owner, repo, name, token); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handlePresets(w http.ResponseWriter, r *http.Request, parts []string) {
	if r.Method != http.MethodGet || len(parts) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	switch parts[0] {
	case "blocks":
		blocks, err := s.service.ListBlockPresets(r.Context())
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"blocks": blocks})
	case "pipelines":
		pipelines, err := s.service.ListPipelinePresets(r.Context())
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"pipelines": pipelines})
	case "search":
		query := r.URL.Query()
		limit := 0
		if raw := query.Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be a positive integer", nil)
				return
			}
			limit = parsed
		}
		payload, err := s.service.SearchPresets(r.Context(), search.Query{
			Text:  query.Get("q"),
			Type:  query.Get("type"),
			Limit: limit,
		})
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleGitHub(w http.ResponseWriter, r *http.Request, parts []string) {
	query := r.URL.Query()
	ref := RepoRef{Owner: query.Get("owner"), Repo: query.Get("repo"), Token: bearerToken(r)}
	if err := ref.validate(); err != nil {
		writeMappedError(w, err)
		return
	}
	ctx := r.Context()
	route := strings.Join(parts, "/")

	switch {
	case r.Method == http.MethodGet && route == "workflows":
		respond[githubapi.WorkflowList](w, http.StatusOK)(s.service.ListWorkflows(ctx, ref))

	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "workflows":
		id, ok := parseID(w, "workflow id", parts[1])
		if !ok {
			return
		}
		respond[githubapi.Workflow](w, http.StatusOK)(s.service.GetWorkflow(ctx, ref, id))

	case r.Method == http.MethodPost && len(parts) == 3 && parts[0] == "workflows" && parts[2] == "dispatch":
		var body struct {
			Ref string `json:"ref"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.Dispatch(ctx, ref, parts[1], body.Ref); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})

	case r.Method == http.MethodGet && route == "workflow-runs":
		filter := githubapi.RunFilter{
			Branch: query.Get("branch"),
			Status: query.Get("status"),
			Event:  query.Get("event"),
		}
		filter.Page, _ = strconv.Atoi(query.Get("page"))
		filter.PerPage, _ = strconv.Atoi(query.Get("perPage"))
		respond[githubapi.RunList](w, http.StatusOK)(s.service.ListRuns(ctx, ref, filter))

	case r.Method == http.MethodGet && route == "workflow-run":
		runID, ok := parseID(w, "runId", query.Get("runId"))
		if !ok {
			return
		}
		respond[githubapi.Run](w, http.StatusOK)(s.service.GetRun(ctx, ref, runID))

	case r.Method == http.MethodPost && route == "workflow-run/cancel":
		runID, ok := parseID(w, "runId", query.Get("runId"))
		if !ok {
			return
		}
		if err := s.service.CancelRun(ctx, ref, runID); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})

	case r.Method == http.MethodGet && route == "workflow-run/logs/raw":
		runID, ok := parseID(w, "runId", query.Get("runId"))
		if !ok {
			return
		}
		text, err := s.service.RunLogs(ctx, ref, runID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(text))

	case r.Method == http.MethodGet && route == "workflow-run/jobs":
		runID, ok := parseID(w, "runId", query.Get("runId"))
		if !ok {
			return
		}
		jobs, err := s.service.ListJobs(ctx, ref, runID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})

	case r.Method == http.MethodGet && route == "workflow-run/job":
		jobID, ok := parseID(w, "jobId", query.Get("jobId"))
		if !ok {
			return
		}
		respond[githubapi.Job](w, http.StatusOK)(s.service.GetJob(ctx, ref, jobID))

	case r.Method == http.MethodGet && route == "repos/secrets":
		secrets, err := s.service.ListSecrets(ctx, ref)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"secrets": secrets})

	case r.Method == http.MethodGet && route == "repos/secrets/grouped":
		respond[map[string][]githubapi.Secret](w, http.StatusOK)(s.service.GroupedSecrets(ctx, ref))

	case r.Method == http.MethodGet && route == "repos/secrets/public-key":
		respond[githubapi.PublicKey](w, http.StatusOK)(s.service.PublicKey(ctx, ref))

	case len(parts) == 3 && parts[0] == "repos" && parts[1] == "secrets":
		name := parts[2]
		switch r.Method {
		case http.MethodPut:
			var body struct {
				Value string `json:"value"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if err := s.service.PutSecret(ctx, ref, name, body.Value); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		case http.MethodDelete:
			if err := s.service.DeleteSecret(ctx, ref, name); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

// respond writes a (payload, error) pair returned by a service call.
func respond[T any](w http.ResponseWriter, status int) func(T, error) {
	return func(payload T, err error) {
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, status, payload)
	}
}

func parseID(w http.ResponseWriter, field, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", field+" must be a positive integer", nil)
		return 0, false
	}
	return id, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		logger := log.With().Str("request_id", requestID).Logger()
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(logger.WithContext(ctx))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var shapeErr *block.ShapeError
	if errors.As(err, &shapeErr) {
		return http.StatusUnprocessableEntity, "INVALID_BLOCKS", shapeErr.Error(), map[string]any{"index": shapeErr.Index, "field": shapeErr.Field}
	}
	var convErr *workflow.ConversionError
	if errors.As(err, &convErr) {
		return http.StatusUnprocessableEntity, "CONVERSION_FAILED", convErr.Error(), map[string]any{"stage": convErr.Stage}
	}
	if errors.Is(err, content.ErrNotFound) || errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, content.ErrAlreadyExists) {
		return http.StatusConflict, "ALREADY_EXISTS", "Workflow already exists", nil
	}
	if githubapi.IsNotFound(err) {
		return http.StatusNotFound, "NOT_FOUND", "Not found on GitHub", nil
	}
	if githubapi.IsUnauthorized(err) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "GitHub rejected the token", nil
	}
	if status := githubapi.StatusCode(err); status != 0 {
		return http.StatusBadGateway, "GITHUB_ERROR", "GitHub request failed", map[string]any{"status": status}
	}
	log.Error().Err(err).Msg("unhandled error")
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
