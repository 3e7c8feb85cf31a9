package refdata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ResolveLatestImportDBName finds the freshest imported reference
// database whose name matches the city. The connection must point at
// the administrative database (see MetaDSN).
func ResolveLatestImportDBName(ctx context.Context, meta *sql.DB, city string) (string, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return "", fmt.Errorf("city is required")
	}

	const q = `
SELECT db_name
FROM public.latest_successful_imports
WHERE db_name ILIKE $1
ORDER BY imported_at DESC
LIMIT 1`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var dbName string
	err := meta.QueryRowContext(ctx, q, "%"+city+"%").Scan(&dbName)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("no imported database matches city %q", city)
	case err != nil:
		return "", fmt.Errorf("resolve import for city %q: %w", city, err)
	case dbName == "":
		return "", fmt.Errorf("import row for city %q has an empty db_name", city)
	}
	return dbName, nil
}
