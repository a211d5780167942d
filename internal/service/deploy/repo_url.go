package deploy

import (
	"net/url"
	"strings"
)

// NormalizeRepoURL trims whitespace, trailing slashes and a trailing ".git".
// Everything else, including case, must match exactly.
func NormalizeRepoURL(raw string) string {
	u := strings.TrimSpace(raw)
	u = strings.TrimRight(u, "/")
	return strings.TrimSuffix(u, ".git")
}

// SameRepo reports whether two repository URLs refer to the same repository.
func SameRepo(a, b string) bool {
	na, nb := NormalizeRepoURL(a), NormalizeRepoURL(b)
	return na != "" && na == nb
}

// authenticatedURL embeds token as basic-auth credentials in an http(s) URL.
// Other schemes are returned unchanged.
func authenticatedURL(raw, token string) string {
	if token == "" {
		return raw
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return raw
	}
	u.User = url.UserPassword("x-access-token", token)
	return u.String()
}
