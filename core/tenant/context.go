package tenant

type contextKey string

// OrgIDContextKey carries the resolved organization id (int64) once the
// request has passed the admin gate.
const OrgIDContextKey contextKey = "organization_id"
