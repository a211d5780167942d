package httpx

import (
	"io"
	"net/http"

	"github.com/ramiz4/helvetia-cloud-sub000/internal/service/deploy"
)

const (
	headerSignature = "X-Hub-Signature-256"
	headerEvent     = "X-GitHub-Event"
)

func (r *Router) handleGitWebhook(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	if err := r.webhooks.Verify(body, req.Header.Get(headerSignature)); err != nil {
		r.logger.Warn("webhook rejected", "error", err)
		r.writeServiceError(w, req, err)
		return
	}
	event, err := r.webhooks.Parse(req.Header.Get(headerEvent), body)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if event.Skipped != "" {
		writeJSON(w, http.StatusOK, webhookResponse{Skipped: event.Skipped})
		return
	}

	var result deploy.Result
	switch {
	case event.Push != nil:
		result, err = r.deploy.HandlePush(req.Context(), *event.Push)
	case event.PullRequest != nil:
		result, err = r.deploy.HandlePullRequest(req.Context(), *event.PullRequest)
	default:
		writeJSON(w, http.StatusOK, webhookResponse{Skipped: "Unsupported event"})
		return
	}
	if err != nil {
		if len(result.Deployments) == 0 && result.TornDown == nil {
			r.writeServiceError(w, req, err)
			return
		}
		// some services were dispatched; report what happened
		r.logger.Error("webhook partially handled", "error", err, "deployments", len(result.Deployments))
	}
	if result.Skipped != "" {
		writeJSON(w, http.StatusOK, presentWebhookResult(result))
		return
	}
	writeJSON(w, http.StatusAccepted, presentWebhookResult(result))
}
