package auth

type contextKey string

// SessionContextKey carries the *store.SessionRecord for the request.
const SessionContextKey contextKey = "session"
