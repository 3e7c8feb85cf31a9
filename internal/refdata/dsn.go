package refdata

import (
	"fmt"
	"net/url"
	"strings"
)

// MetaDSN points the DSN at the cluster's administrative database, the
// one holding latest_successful_imports.
func MetaDSN(dsn string) (string, error) {
	return rewriteDatabase(dsn, "postgres")
}

// ImportDSN points the DSN at a resolved import database.
func ImportDSN(dsn, dbName string) (string, error) {
	if dbName == "" {
		return "", fmt.Errorf("import database name is empty")
	}
	return rewriteDatabase(dsn, dbName)
}

// rewriteDatabase swaps the database segment of a postgres URL DSN,
// keeping credentials, host, and options intact. A DSN without a scheme
// is treated as host[:port][/db] shorthand.
func rewriteDatabase(dsn, dbName string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", fmt.Errorf("empty DSN")
	}
	if !strings.Contains(dsn, "://") {
		dsn = "postgres://" + dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse DSN: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", fmt.Errorf("unsupported DSN scheme %q", u.Scheme)
	}
	u.Path = "/" + strings.TrimPrefix(dbName, "/")
	return u.String(), nil
}
