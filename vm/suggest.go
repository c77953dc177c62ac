package vm

import (
	"github.com/agnivade/levenshtein"
)

// suggest returns the candidate closest to name, or "" if none is close
// enough to be a plausible misspelling.
func suggest(name string, candidates []string) string {
	best, bestDist := "", len(name)/2+1
	for _, c := range candidates {
		if c == name {
			continue
		}
		if d := levenshtein.ComputeDistance(name, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// didYouMean formats a suggestion suffix for error messages.
func didYouMean(name string, candidates []string, prefix string) string {
	if s := suggest(name, candidates); s != "" {
		return " (did you mean '" + prefix + s + "'?)"
	}
	return ""
}
