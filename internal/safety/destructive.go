package safety

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"build-orchestrator/internal/entity"
)

type signature struct {
	category string
	re       *regexp.Regexp
}

// signatures are checked in order; a single item may match several
// categories.
var signatures = []signature{
	{"sql-drop", regexp.MustCompile(`(?i)\bdrop\s+(table|database|schema)\b`)},
	{"sql-truncate", regexp.MustCompile(`(?i)\btruncate\s+(table\s+)?[\w."]+`)},
	{"sql-unbounded-delete", regexp.MustCompile(`(?im)\bdelete\s+from\s+[\w."]+\s*(;|$)`)},
	{"fs-force-delete", regexp.MustCompile(`\brm\s+-[a-zA-Z]*([rR]f|f[rR])[a-zA-Z]*\b|\brm\s+(-r\s+-f|-f\s+-r)\b`)},
	{"fs-force-delete", regexp.MustCompile(`\bshutil\.rmtree\(|\bos\.RemoveAll\(|\brimraf\b|\brmSync\([^)]*force:\s*true`)},
	{"git-force-push", regexp.MustCompile(`\bgit\s+push\b[^\n]*\s(--force(-with-lease)?|-f)\b`)},
	{"git-history-rewrite", regexp.MustCompile(`\bgit\s+(reset\s+--hard|filter-branch|filter-repo)\b`)},
}

// CheckDestructiveOps scans item contents for destructive signatures. It
// returns the offending paths in plan order so the caller can pause for
// approval instead of failing.
func CheckDestructiveOps(items []entity.WorkItem) Verdict {
	var (
		flagged    []string
		categories []string
	)

	for _, it := range items {
		hit := false
		for _, sig := range signatures {
			if !sig.re.MatchString(it.Content) {
				continue
			}
			hit = true
			if !slices.Contains(categories, sig.category) {
				categories = append(categories, sig.category)
			}
		}
		if hit {
			flagged = append(flagged, it.Path)
		}
	}

	if len(flagged) == 0 {
		return allow()
	}
	return Verdict{
		Allowed:      false,
		Reason:       fmt.Sprintf("destructive operations detected (%s) in %d item(s)", strings.Join(categories, ", "), len(flagged)),
		FlaggedItems: flagged,
	}
}
