package rbac

type Role string
type Action string

const (
	RoleReader Role = "reader"
	RoleWriter Role = "writer"
	RoleAdmin  Role = "admin"
)

const (
	// ActionRead covers document, queue status, search, history and export.
	ActionRead Action = "read"
	// ActionWrite covers insertions.
	ActionWrite Action = "write"
	// ActionAdmin covers the generation flag and clearing the queue.
	ActionAdmin Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleWriter:
		return action == ActionRead || action == ActionWrite
	case RoleReader:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps unknown roles to reader.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleReader, RoleWriter, RoleAdmin:
		return Role(role)
	default:
		return RoleReader
	}
}
