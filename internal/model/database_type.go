package model

import (
	"fmt"
	"strings"
)

// DatabaseType identifies the engine behind a Server or Agent.
type DatabaseType string

const (
	DatabasePostgres  DatabaseType = "postgres"
	DatabaseMySQL     DatabaseType = "mysql"
	DatabaseSQLServer DatabaseType = "sqlserver"
	DatabaseSQLite    DatabaseType = "sqlite"
)

// DatabaseTypes lists every supported engine.
var DatabaseTypes = []DatabaseType{DatabasePostgres, DatabaseMySQL, DatabaseSQLServer, DatabaseSQLite}

// ParseDatabaseType accepts engine names case-insensitively.
func ParseDatabaseType(s string) (DatabaseType, error) {
	t := DatabaseType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range DatabaseTypes {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unsupported database type %q", s)
}

func (t DatabaseType) String() string { return string(t) }

// DefaultPort is the engine's usual listening port. SQLite has none and
// gets the sentinel port.
func (t DatabaseType) DefaultPort() int {
	switch t {
	case DatabasePostgres:
		return 5432
	case DatabaseMySQL:
		return 3306
	case DatabaseSQLServer:
		return 1433
	}
	return SQLiteSentinelPort
}
