package domain

// PushEvent is a branch push reported by the source-control provider.
type PushEvent struct {
	RepoURL string
	Branch  string
	Commit  string
}

// Pull request actions the dispatcher reacts to.
const (
	PullRequestOpened      = "opened"
	PullRequestReopened    = "reopened"
	PullRequestSynchronize = "synchronize"
	PullRequestClosed      = "closed"
)

// PullRequestEvent is a pull request lifecycle change.
type PullRequestEvent struct {
	Action     string
	Number     int
	RepoURL    string
	HeadBranch string
	HeadSHA    string
}
