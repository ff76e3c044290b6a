package auth

import "time"

type Role string

const (
	RoleStudent   Role = "student"
	RoleModerator Role = "moderator"
	RoleAgent     Role = "agent"
	// RoleSystem is never issued in a token; background jobs act with it.
	RoleSystem Role = "system"
)

// User is the domain representation of a marketplace account.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID            string
	Email         string
	DisplayName   string
	PasswordHash  string
	Role          Role
	PointsBalance int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Actor identifies who is asking the core to act. The core authorizes
// actors against the records they touch; it never authenticates them.
type Actor struct {
	ID   string
	Role Role
}

// SystemActor is used by timers such as the sweeper.
var SystemActor = Actor{ID: "system", Role: RoleSystem}

func (a Actor) IsResolver() bool { return a.Role == RoleModerator }

func (a Actor) IsSystem() bool { return a.Role == RoleSystem }

func (a Actor) IsAgent() bool { return a.Role == RoleAgent }

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
