package database

// IS NULL OR helpers: convert empty Go values to nil so PostgreSQL
// sees NULL and the ($1::type IS NULL OR ...) pattern skips the filter.

func pqString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func pqStringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}
