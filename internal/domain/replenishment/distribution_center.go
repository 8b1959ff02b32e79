package replenishment

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var dcCodePattern = regexp.MustCompile(`^(\d+)\s*CD$`)

// DistributionCenters maps distribution-center codes (e.g. "41CD") to the
// numeric branch that receives the consolidated demand.
type DistributionCenters struct {
	branches map[string]int
}

// DefaultDistributionCenters returns the catalog used when none is configured
func DefaultDistributionCenters() *DistributionCenters {
	dcs, _ := NewDistributionCenters(map[string]int{"41CD": 41, "82CD": 82})
	return dcs
}

// NewDistributionCenters builds a catalog from code -> branch pairs
func NewDistributionCenters(codes map[string]int) (*DistributionCenters, error) {
	branches := make(map[string]int, len(codes))
	for code, branch := range codes {
		key := normalizeDCCode(code)
		if key == "" {
			return nil, fmt.Errorf("empty distribution center code")
		}
		if branch <= 0 {
			return nil, fmt.Errorf("distribution center %q: branch must be positive, got %d", code, branch)
		}
		branches[key] = branch
	}
	return &DistributionCenters{branches: branches}, nil
}

// ParseDistributionCenters reads "41CD=41,82CD=82" style lists. An entry
// without "=" derives the branch from the leading digits of the code.
func ParseDistributionCenters(spec []string) (*DistributionCenters, error) {
	codes := make(map[string]int, len(spec))
	for _, entry := range spec {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		code, branchStr, found := strings.Cut(entry, "=")
		if !found {
			m := dcCodePattern.FindStringSubmatch(normalizeDCCode(entry))
			if m == nil {
				return nil, fmt.Errorf("distribution center %q: cannot derive branch", entry)
			}
			branchStr = m[1]
		}
		branch, err := strconv.Atoi(strings.TrimSpace(branchStr))
		if err != nil {
			return nil, fmt.Errorf("distribution center %q: %w", entry, err)
		}
		codes[code] = branch
	}
	return NewDistributionCenters(codes)
}

// Branch resolves a code to its branch. Unknown or empty codes are not recognized.
func (d *DistributionCenters) Branch(code string) (int, bool) {
	if d == nil {
		return 0, false
	}
	branch, ok := d.branches[normalizeDCCode(code)]
	return branch, ok
}

// IsDistributionBranch reports whether branch is one of the catalog's centers
func (d *DistributionCenters) IsDistributionBranch(branch int) bool {
	if d == nil {
		return false
	}
	for _, b := range d.branches {
		if b == branch {
			return true
		}
	}
	return false
}

// Len returns the number of configured centers
func (d *DistributionCenters) Len() int {
	if d == nil {
		return 0
	}
	return len(d.branches)
}

func normalizeDCCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
