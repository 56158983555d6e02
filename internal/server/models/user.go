package models

import "time"

// Account roles. Migrated accounts always receive RoleUser.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is a local account row.
type User struct {
	ID                    string
	UserName              string
	Email                 string
	Salt                  []byte
	Verifier              []byte
	Role                  string
	RequirePasswordChange bool
	// MigratedTo is the domain the account moved to, empty while it lives here.
	MigratedTo string
	CreatedAt  time.Time
}

// Credentials is the password verification material carried in a backup.
type Credentials struct {
	Salt     []byte `json:"salt"`
	Verifier []byte `json:"verifier"`
}
