package scheduler

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// fallbackInterval is returned by ParseSchedule for an expression it cannot
// parse, so the owning task eventually runs instead of never firing.
const fallbackInterval = time.Hour

var (
	timeExprRe     = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	intervalExprRe = regexp.MustCompile(`^\*/(\d+)\s*(minute|minutes|min|mins|hour|hours|hr|hrs)$`)
	secondsExprRe  = regexp.MustCompile(`^(\d+)$`)
)

// ParseSchedule evaluates a schedule expression against
// now and returns the duration until its next fire. now must be in the
// timezone the expression's wall-clock forms should be interpreted in.
func ParseSchedule(expr string, now time.Time) time.Duration {
	expr = strings.TrimSpace(expr)

	if m := timeExprRe.FindStringSubmatch(expr); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if hh > 23 || mm > 59 {
			slog.Warn("invalid schedule expression, using fallback", "expr", expr)
			return fallbackInterval
		}
		next := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location())
		if !next.After(now) {
			next = next.Add(24 * time.Hour)
		}
		return next.Sub(now)
	}

	if m := intervalExprRe.FindStringSubmatch(expr); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n <= 0 {
			slog.Warn("invalid schedule expression (non-positive interval), using fallback", "expr", expr)
			return fallbackInterval
		}
		unit := m[2]
		switch unit {
		case "minute", "minutes", "min", "mins":
			return time.Duration(n) * time.Minute
		case "hour", "hours", "hr", "hrs":
			return time.Duration(n) * time.Hour
		}
	}

	if m := secondsExprRe.FindStringSubmatch(expr); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n <= 0 {
			slog.Warn("invalid schedule expression (non-positive seconds), using fallback", "expr", expr)
			return fallbackInterval
		}
		return time.Duration(n) * time.Second
	}

	slog.Warn("unrecognized schedule expression, using fallback", "expr", expr)
	return fallbackInterval
}

// ValidateSchedule reports a descriptive error for an expression ParseSchedule
// would have to fall back on, used by config validation at load time.
func ValidateSchedule(expr string) error {
	expr = strings.TrimSpace(expr)
	switch {
	case timeExprRe.MatchString(expr), intervalExprRe.MatchString(expr), secondsExprRe.MatchString(expr):
		return nil
	default:
		return fmt.Errorf("unrecognized schedule expression: %q", expr)
	}
}
