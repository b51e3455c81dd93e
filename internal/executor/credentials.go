package executor

import (
	"net/url"
	"strings"
)

// Credentials is a username/password pair for one site
type Credentials struct {
	Username string
	Password string
}

// CredentialStore looks up credentials by host name
type CredentialStore interface {
	Lookup(host string) (Credentials, bool)
}

// StaticCredentials is a CredentialStore backed by a fixed host map.
// Keys are matched case-insensitively, with or without a leading "www.".
type StaticCredentials map[string]Credentials

func (s StaticCredentials) Lookup(host string) (Credentials, bool) {
	host = strings.ToLower(host)
	for k, c := range s {
		k = strings.ToLower(k)
		if k == host || strings.TrimPrefix(k, "www.") == strings.TrimPrefix(host, "www.") {
			return c, true
		}
	}
	return Credentials{}, false
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		// Scheme-less input such as "example.com/login"
		u, err = url.Parse("https://" + raw)
		if err != nil {
			return raw
		}
	}
	return u.Hostname()
}
