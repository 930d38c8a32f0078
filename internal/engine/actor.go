package engine

import "github.com/google/uuid"

// Actor identifies who triggered an operation, plus the request metadata the
// audit log records. It is threaded explicitly from the HTTP layer through
// the engine into every audit entry rather than stashed in a global.
type Actor struct {
	UserId    uuid.UUID
	Admin     bool
	IP        string
	UserAgent string
}

// SystemActor is used for work the engine performs on its own schedule, such
// as the expiry sweep.
var SystemActor = Actor{UserId: uuid.Nil, Admin: true}
