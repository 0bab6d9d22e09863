// Package contextx carries request-scoped engine metadata through
// context.Context values. The progress log stamps the session identity into
// every entry it records, when one is present.
package contextx

import "context"

// contextKey is an unexported type used as context key to avoid collisions
// with keys defined in other packages.
type contextKey int

const sessionKey contextKey = iota

// Session identifies the client session on whose behalf progress is being
// recorded. It is typically populated once at application start and stored
// in the root context via [WithSession].
//
// Example:
//
//	sess := contextx.Session{ID: "sess-42", Client: "web"}
//	ctx = contextx.WithSession(ctx, sess)
type Session struct {
	ID     string
	Client string
}

// WithSession returns a derived context that carries the given Session.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromContext extracts the Session stored in ctx.
// The boolean return value indicates whether a Session was present.
func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey).(Session)
	return s, ok
}
