package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ramiz4/helvetia-cloud-sub000/internal/domain"
)

// Event is a decoded webhook. Exactly one of Push and PullRequest is set
// unless Skipped carries the reason the delivery is ignored.
type Event struct {
	Push        *domain.PushEvent
	PullRequest *domain.PullRequestEvent
	Skipped     string
}

type repositoryPayload struct {
	CloneURL string `json:"clone_url"`
	HTMLURL  string `json:"html_url"`
}

func (r repositoryPayload) url() string {
	if strings.TrimSpace(r.CloneURL) != "" {
		return r.CloneURL
	}
	return r.HTMLURL
}

type pushPayload struct {
	Ref        string            `json:"ref"`
	After      string            `json:"after"`
	Deleted    bool              `json:"deleted"`
	Repository repositoryPayload `json:"repository"`
}

type pullRequestPayload struct {
	Action      string            `json:"action"`
	Number      int               `json:"number"`
	Repository  repositoryPayload `json:"repository"`
	PullRequest *struct {
		Number int `json:"number"`
		Head   struct {
			Ref string `json:"ref"`
			SHA string `json:"sha"`
		} `json:"head"`
	} `json:"pull_request"`
}

// Parse decodes body according to the provider event name. When the name is
// empty the payload shape decides.
func (s Service) Parse(eventName string, body []byte) (Event, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return Event{}, fmt.Errorf("%w: malformed webhook body", domain.ErrValidation)
	}

	eventName = strings.ToLower(strings.TrimSpace(eventName))
	if eventName == "" {
		switch {
		case probe["pull_request"] != nil:
			eventName = "pull_request"
		case probe["ref"] != nil:
			eventName = "push"
		}
	}

	switch eventName {
	case "push":
		return parsePush(body)
	case "pull_request":
		return parsePullRequest(body)
	case "ping":
		return Event{Skipped: "Ping received"}, nil
	default:
		return Event{Skipped: "Unsupported event"}, nil
	}
}

func parsePush(body []byte) (Event, error) {
	var p pushPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Event{}, fmt.Errorf("%w: malformed push payload", domain.ErrValidation)
	}
	repo := strings.TrimSpace(p.Repository.url())
	if repo == "" || p.Ref == "" {
		return Event{}, fmt.Errorf("%w: push payload missing repository or ref", domain.ErrValidation)
	}
	if !strings.HasPrefix(p.Ref, "refs/heads/") {
		return Event{Skipped: "Not a branch push"}, nil
	}
	if p.Deleted {
		return Event{Skipped: "Branch deleted"}, nil
	}
	return Event{Push: &domain.PushEvent{
		RepoURL: repo,
		Branch:  strings.TrimPrefix(p.Ref, "refs/heads/"),
		Commit:  p.After,
	}}, nil
}

func parsePullRequest(body []byte) (Event, error) {
	var p pullRequestPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Event{}, fmt.Errorf("%w: malformed pull_request payload", domain.ErrValidation)
	}
	repo := strings.TrimSpace(p.Repository.url())
	if repo == "" || p.PullRequest == nil || p.Action == "" {
		return Event{}, fmt.Errorf("%w: pull_request payload missing fields", domain.ErrValidation)
	}
	number := p.Number
	if number == 0 {
		number = p.PullRequest.Number
	}
	if number <= 0 {
		return Event{}, fmt.Errorf("%w: pull_request payload missing number", domain.ErrValidation)
	}
	return Event{PullRequest: &domain.PullRequestEvent{
		Action:     p.Action,
		Number:     number,
		RepoURL:    repo,
		HeadBranch: p.PullRequest.Head.Ref,
		HeadSHA:    p.PullRequest.Head.SHA,
	}}, nil
}
