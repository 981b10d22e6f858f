package models

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleSuperAdmin UserRole = "SUPERADMIN"
	RoleAdmin      UserRole = "ADMIN"
	RoleCollege    UserRole = "COLLEGE"
	RoleProfessor  UserRole = "PROFESSOR"
	RoleStudent    UserRole = "STUDENT"
)

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// RoleSystem marks actions taken by background jobs.
const RoleSystem UserRole = "SYSTEM"

// Actor identifies who performed an audited action.
type Actor struct {
	ID   string
	Role UserRole
}

// SystemActor is recorded for scheduler-driven actions.
var SystemActor = Actor{ID: "system", Role: RoleSystem}
