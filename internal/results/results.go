// Package results defines build outcome codes and their aggregation order.
package results

// Result codes. SUCCESS is the best outcome; the zero value of the unset
// sentinel is deliberately not a valid code.
const (
	Success   = 0
	Warnings  = 1
	Failure   = 2
	Skipped   = 3
	Exception = 4
	Retry     = 5
	Cancelled = 6

	// Unset marks a build request whose outcome has not been recorded yet.
	Unset = -1
)

// severityOrder ranks codes from best to worst for aggregation. A buildset's
// aggregate result is the worst result among its build requests under this
// order. This ordering is fixed; do not derive severity from the numeric
// code values.
var severityOrder = []int{Success, Skipped, Warnings, Failure, Cancelled, Exception, Retry}

var severityRank = func() map[int]int {
	m := make(map[int]int, len(severityOrder))
	for rank, code := range severityOrder {
		m[code] = rank
	}
	return m
}()

// names maps result codes to their canonical lowercase names.
var names = map[int]string{
	Success:   "success",
	Warnings:  "warnings",
	Failure:   "failure",
	Skipped:   "skipped",
	Exception: "exception",
	Retry:     "retry",
	Cancelled: "cancelled",
	Unset:     "unset",
}

// Valid reports whether code is a recognized terminal result code.
func Valid(code int) bool {
	_, ok := severityRank[code]
	return ok
}

// Name returns the canonical name for a result code, or "unknown".
func Name(code int) string {
	if n, ok := names[code]; ok {
		return n
	}
	return "unknown"
}

// Code resolves a canonical name back to its result code.
func Code(name string) (int, bool) {
	for code, n := range names {
		if n == name && code != Unset {
			return code, true
		}
	}
	return 0, false
}

// Worst returns the most severe result among codes. An empty input
// aggregates to Success: nothing went wrong because nothing ran.
func Worst(codes []int) int {
	worst := Success
	worstRank := severityRank[Success]
	for _, c := range codes {
		rank, ok := severityRank[c]
		if !ok {
			// Unrecognized codes (including Unset) rank above everything
			// recognized so they cannot be masked by a passing sibling.
			rank = len(severityOrder)
		}
		if rank > worstRank {
			worst, worstRank = c, rank
		}
	}
	return worst
}
