package webhook

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiz4/helvetia-cloud-sub000/internal/domain"
)

func newTestService(secret string) Service {
	return New(secret, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestVerify(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)
	svc := newTestService("s3cret")

	assert.NoError(t, svc.Verify(body, Sign([]byte("s3cret"), body)))
	assert.ErrorIs(t, svc.Verify(body, ""), domain.ErrSignatureInvalid)
	assert.ErrorIs(t, svc.Verify(body, Sign([]byte("other"), body)), domain.ErrSignatureInvalid)
	assert.ErrorIs(t, svc.Verify(body, "sha1=abc"), domain.ErrSignatureInvalid)
	assert.ErrorIs(t, svc.Verify([]byte(`{}`), Sign([]byte("s3cret"), body)), domain.ErrSignatureInvalid)
}

func TestVerifyWithoutSecretIsMisconfiguration(t *testing.T) {
	body := []byte(`{}`)
	err := newTestService("  ").Verify(body, Sign([]byte(""), body))
	assert.ErrorIs(t, err, domain.ErrMisconfigured)
}

func TestParsePush(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main","after":"abc123","repository":{"clone_url":"https://github.com/acme/app.git","html_url":"https://github.com/acme/app"}}`)

	ev, err := newTestService("x").Parse("push", body)
	require.NoError(t, err)
	require.NotNil(t, ev.Push)
	assert.Equal(t, domain.PushEvent{RepoURL: "https://github.com/acme/app.git", Branch: "main", Commit: "abc123"}, *ev.Push)
}

func TestParsePushSkipsTagsAndDeletes(t *testing.T) {
	svc := newTestService("x")

	ev, err := svc.Parse("push", []byte(`{"ref":"refs/tags/v1","repository":{"html_url":"https://github.com/acme/app"}}`))
	require.NoError(t, err)
	assert.Equal(t, "Not a branch push", ev.Skipped)

	ev, err = svc.Parse("push", []byte(`{"ref":"refs/heads/old","deleted":true,"repository":{"html_url":"https://github.com/acme/app"}}`))
	require.NoError(t, err)
	assert.Equal(t, "Branch deleted", ev.Skipped)
}

func TestParsePullRequestInfersEventFromShape(t *testing.T) {
	body := []byte(`{"action":"synchronize","number":7,"repository":{"html_url":"https://github.com/acme/app"},"pull_request":{"head":{"ref":"feature","sha":"def456"}}}`)

	ev, err := newTestService("x").Parse("", body)
	require.NoError(t, err)
	require.NotNil(t, ev.PullRequest)
	assert.Equal(t, domain.PullRequestEvent{
		Action:     domain.PullRequestSynchronize,
		Number:     7,
		RepoURL:    "https://github.com/acme/app",
		HeadBranch: "feature",
		HeadSHA:    "def456",
	}, *ev.PullRequest)
}

func TestParseRejectsMalformedBodies(t *testing.T) {
	svc := newTestService("x")

	_, err := svc.Parse("push", []byte(`not json`))
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Parse("push", []byte(`{"ref":"refs/heads/main"}`))
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Parse("pull_request", []byte(`{"action":"opened","repository":{"html_url":"https://h/a/b"}}`))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestParseSkipsOtherEvents(t *testing.T) {
	svc := newTestService("x")

	ev, err := svc.Parse("ping", []byte(`{"zen":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "Ping received", ev.Skipped)

	ev, err = svc.Parse("issues", []byte(`{"action":"opened"}`))
	require.NoError(t, err)
	assert.Equal(t, "Unsupported event", ev.Skipped)

	ev, err = svc.Parse("", []byte(`{"zen":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "Unsupported event", ev.Skipped)
}
