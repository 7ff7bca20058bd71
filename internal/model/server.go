package model

import "time"

// SQLite servers carry sentinel values for the fields the engine does not use.
const (
	SQLiteSentinelUser = "sqlite_default"
	SQLiteSentinelPort = 1
)

// Server is a backup target the manager reaches directly.
// For SQLite, Host is the database file path.
type Server struct {
	ID        int64        `json:"id"`
	Name      string       `json:"name"`
	Type      DatabaseType `json:"type"`
	Host      string       `json:"host"`
	Port      int          `json:"port"`
	User      string       `json:"user"`
	Password  string       `json:"-"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
