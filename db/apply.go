package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// Apply executes the embedded schema files in lexical order. All
// statements are written to be idempotent, so Apply is safe to run on
// every startup.
func Apply(ctx context.Context, conn *sql.DB) error {
	entries, err := Content.ReadDir("schema")
	if err != nil {
		return fmt.Errorf("read schema dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		raw, err := Content.ReadFile("schema/" + name)
		if err != nil {
			return fmt.Errorf("read schema/%s: %w", name, err)
		}
		if _, err := conn.ExecContext(ctx, string(raw)); err != nil {
			return fmt.Errorf("apply schema/%s: %w", name, err)
		}
	}
	return nil
}
