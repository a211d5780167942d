package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ramiz4/helvetia-cloud-sub000/internal/service/catalog"
	"github.com/ramiz4/helvetia-cloud-sub000/internal/service/lifecycle"
)

type createServiceRequest struct {
	Name            string            `json:"name"`
	RepoURL         string            `json:"repoUrl"`
	Branch          string            `json:"branch"`
	BuildCommand    string            `json:"buildCommand"`
	StartCommand    string            `json:"startCommand"`
	Type            string            `json:"type"`
	Port            int               `json:"port"`
	EnvVars         map[string]string `json:"envVars"`
	CustomDomain    string            `json:"customDomain"`
	StaticOutputDir string            `json:"staticOutputDir"`
	DeleteProtected bool              `json:"deleteProtected"`
}

func (r *Router) handleCreateService(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.authContextMissing(w, req)
		return
	}
	var payload createServiceRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	view, err := r.catalog.Create(req.Context(), info.UserID, catalog.CreateInput{
		Name:            payload.Name,
		RepoURL:         payload.RepoURL,
		Branch:          payload.Branch,
		BuildCommand:    payload.BuildCommand,
		StartCommand:    payload.StartCommand,
		Type:            payload.Type,
		Port:            payload.Port,
		EnvVars:         payload.EnvVars,
		CustomDomain:    payload.CustomDomain,
		StaticOutputDir: payload.StaticOutputDir,
		DeleteProtected: payload.DeleteProtected,
	})
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, presentService(*view))
}

func (r *Router) handleListServices(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.authContextMissing(w, req)
		return
	}
	views, err := r.catalog.List(req.Context(), info.UserID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	out := make([]serviceResponse, 0, len(views))
	for _, v := range views {
		out = append(out, presentService(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (r *Router) handleGetService(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.authContextMissing(w, req)
		return
	}
	view, err := r.catalog.Get(req.Context(), info.UserID, req.PathValue("id"))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, presentService(*view))
}

func (r *Router) handleDeleteService(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.authContextMissing(w, req)
		return
	}
	mode := lifecycle.Soft
	if hard, _ := strconv.ParseBool(req.URL.Query().Get("hard")); hard {
		mode = lifecycle.Hard
	}
	id := req.PathValue("id")
	if err := r.lifecycle.Delete(req.Context(), info.UserID, id, mode); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted", "mode": mode.String()})
}

func (r *Router) handleDeployService(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.authContextMissing(w, req)
		return
	}
	var payload struct {
		Commit string `json:"commit"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	dep, err := r.deploy.Trigger(req.Context(), info.UserID, req.PathValue("id"), strings.TrimSpace(payload.Commit))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusAccepted, presentDeployment(*dep, false))
}

func (r *Router) handleRestartService(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.authContextMissing(w, req)
		return
	}
	containerID, err := r.lifecycle.Restart(req.Context(), info.UserID, req.PathValue("id"))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"containerId": containerID, "status": "restarted"})
}

func (r *Router) handleListDeployments(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.authContextMissing(w, req)
		return
	}
	limit := 0
	if raw := strings.TrimSpace(req.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	deps, err := r.catalog.Deployments(req.Context(), info.UserID, req.PathValue("id"), limit)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, presentDeployments(deps))
}

func (r *Router) authContextMissing(w http.ResponseWriter, req *http.Request) {
	r.logger.Error("auth context missing", "path", req.URL.Path)
	writeError(w, http.StatusInternalServerError, "authorization context missing")
}
