package archive

import (
	"fmt"
	"strconv"
	"strings"
)

// Boundary restricts which posts a run archives. Post ids decrease across the
// feed, so Lower stops the crawl and Upper only skips newer posts.
type Boundary struct {
	lower    uint64
	upper    uint64
	hasLower bool
	hasUpper bool
}

// NewBoundary parses the optional lower and upper ids. Empty strings leave
// the corresponding bound unset.
func NewBoundary(lowerID, upperID string) (Boundary, error) {
	var b Boundary
	if s := strings.TrimSpace(lowerID); s != "" {
		v, err := ParseID(s)
		if err != nil {
			return Boundary{}, fmt.Errorf("lower bound: %w", err)
		}
		b.lower, b.hasLower = v, true
	}
	if s := strings.TrimSpace(upperID); s != "" {
		v, err := ParseID(s)
		if err != nil {
			return Boundary{}, fmt.Errorf("upper bound: %w", err)
		}
		b.upper, b.hasUpper = v, true
	}
	return b, nil
}

// Reached reports whether id is at or below the lower bound, which ends the run.
func (b Boundary) Reached(id uint64) bool {
	return b.hasLower && id <= b.lower
}

// Above reports whether id is newer than the upper bound and must be skipped.
func (b Boundary) Above(id uint64) bool {
	return b.hasUpper && id > b.upper
}

// String renders the bounds for logs.
func (b Boundary) String() string {
	lower, upper := "-", "-"
	if b.hasLower {
		lower = strconv.FormatUint(b.lower, 10)
	}
	if b.hasUpper {
		upper = strconv.FormatUint(b.upper, 10)
	}
	return fmt.Sprintf("(%s, %s]", lower, upper)
}

// ParseID converts a decimal post id into its numeric form.
func ParseID(id string) (uint64, error) {
	v, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("post id %q is not numeric: %w", id, err)
	}
	return v, nil
}
