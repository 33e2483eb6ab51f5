package db

import (
	"strconv"
	"strings"

	"github.com/estatedesk/crm/internal/db/migrations"
)

// SchemaVersion returns the highest migration version embedded in the binary.
// Reported by the health endpoint so operators can spot a stale deploy.
func SchemaVersion() int {
	entries, err := migrations.FS.ReadDir(".")
	if err != nil {
		return 0
	}

	latest := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}

		prefix, _, _ := strings.Cut(e.Name(), "_")
		if v, err := strconv.Atoi(prefix); err == nil && v > latest {
			latest = v
		}
	}

	return latest
}
