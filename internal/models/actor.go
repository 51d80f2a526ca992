package models

// Role is supplied by the identity collaborator alongside the actor ID.
type Role string

const (
	RoleAuthor Role = "author"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

// Actor is the authenticated principal performing a lifecycle action.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// CanModerate reports whether the actor may approve, reject or archive
// content. Authors may only act on their own drafts.
func (a Actor) CanModerate() bool {
	return a.Role == RoleEditor || a.Role == RoleAdmin
}
