package receipt

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
)

// LocalUser is the principal used when no users are configured
const LocalUser = "local"

// BasicAuth holds basic authentication credentials for every user
type BasicAuth struct {
	Users  map[string]string
	Admins map[string]bool
}

// Enabled reports whether any credentials are configured
func (a BasicAuth) Enabled() bool {
	return len(a.Users) > 0
}

// ParseCredentials builds a BasicAuth from "alice:pw,bob:pw" and "alice" style lists.
// Every admin must also be a configured user.
func ParseCredentials(users, admins string) (BasicAuth, error) {
	auth := BasicAuth{
		Users:  make(map[string]string),
		Admins: make(map[string]bool),
	}

	for _, entry := range splitList(users) {
		name, password, ok := strings.Cut(entry, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" || password == "" {
			return BasicAuth{}, fmt.Errorf("%w: user entry %q must be name:password", ErrInvalidInput, entry)
		}
		if _, dup := auth.Users[name]; dup {
			return BasicAuth{}, fmt.Errorf("%w: user %q configured twice", ErrInvalidInput, name)
		}
		auth.Users[name] = password
	}

	for _, name := range splitList(admins) {
		if _, ok := auth.Users[name]; !ok {
			return BasicAuth{}, fmt.Errorf("%w: admin %q is not a configured user", ErrInvalidInput, name)
		}
		auth.Admins[name] = true
	}

	return auth, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Principal is the authenticated caller of a request
type Principal struct {
	Name  string
	Admin bool
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller stored on the request context
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// authenticate checks basic auth credentials and returns the caller
func (a BasicAuth) authenticate(r *http.Request) (Principal, bool) {
	if !a.Enabled() {
		return Principal{Name: LocalUser, Admin: true}, true
	}

	username, password, ok := r.BasicAuth()
	if !ok {
		return Principal{}, false
	}
	expected, known := a.Users[username]
	if !known || subtle.ConstantTimeCompare([]byte(password), []byte(expected)) != 1 {
		return Principal{}, false
	}
	return Principal{Name: username, Admin: a.Admins[username]}, true
}
