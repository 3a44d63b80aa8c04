// Package dialog drives the per-admin multi-step workflows. Every step
// input goes through a pure parser in this file; handlers re-prompt on
// a validation error without advancing state or touching a store.
package dialog

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	tghelpers "github.com/m3rciful/edubot/core/telegram/helpers"
	"github.com/m3rciful/edubot/internal/apperr"
)

// ParseUserID parses a step input as a numeric user identity.
func ParseUserID(input string) (int64, error) {
	s := strings.TrimSpace(input)
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q is not a valid user id", apperr.ErrValidation, input)
	}
	return id, nil
}

// PointsMode tells how a points edit applies to the current balance.
type PointsMode int

const (
	// PointsAdd adds the value to the balance.
	PointsAdd PointsMode = iota
	// PointsSub subtracts the value, floored at zero.
	PointsSub
	// PointsSet replaces the balance with the value.
	PointsSet
)

// PointsEdit is a parsed points adjustment.
type PointsEdit struct {
	Mode  PointsMode
	Value int
}

// ParsePoints accepts three shapes: "+N" additive, "-N" subtractive,
// and bare "N" as an absolute set.
func ParsePoints(input string) (PointsEdit, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return PointsEdit{}, fmt.Errorf("%w: empty points value", apperr.ErrValidation)
	}

	mode := PointsSet
	switch s[0] {
	case '+':
		mode = PointsAdd
		s = s[1:]
	case '-':
		mode = PointsSub
		s = s[1:]
	}

	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return PointsEdit{}, fmt.Errorf("%w: %q is not a valid points value", apperr.ErrValidation, input)
	}
	return PointsEdit{Mode: mode, Value: n}, nil
}

// Apply returns the new balance for a current one. Never negative.
func (e PointsEdit) Apply(current int) int {
	switch e.Mode {
	case PointsAdd:
		return current + e.Value
	case PointsSub:
		next := current - e.Value
		if next < 0 {
			return 0
		}
		return next
	default:
		return e.Value
	}
}

// Delta returns the signed delta form for additive and subtractive
// edits; ok is false for an absolute set.
func (e PointsEdit) Delta() (int, bool) {
	switch e.Mode {
	case PointsAdd:
		return e.Value, true
	case PointsSub:
		return -e.Value, true
	default:
		return 0, false
	}
}

// DurationPresets are the curated grant lengths offered as buttons.
var DurationPresets = []int{30, 90, 180, 365}

// Duration is a parsed grant length. Lifetime is flagged at or above
// the sentinel threshold; the ledger maps it to a far-future expiry.
type Duration struct {
	Days     int
	Lifetime bool
}

// ParseDuration accepts a preset, any free-form positive integer, or an
// explicit end date in the formats ParseFlexibleDate knows. A date is
// converted to the number of whole days until it, rounded up.
func ParseDuration(input string) (Duration, error) {
	return parseDurationAt(input, time.Now())
}

func parseDurationAt(input string, now time.Time) (Duration, error) {
	s := strings.TrimSpace(input)
	if days, err := strconv.Atoi(s); err == nil {
		if days <= 0 {
			return Duration{}, fmt.Errorf("%w: %q is not a valid number of days", apperr.ErrValidation, input)
		}
		return Duration{Days: days, Lifetime: days >= lifetimeThresholdDays}, nil
	}
	if until, ok := tghelpers.ParseFlexibleDate(s); ok {
		days := int(math.Ceil(until.Sub(now).Hours() / 24))
		if days <= 0 {
			return Duration{}, fmt.Errorf("%w: date %q is not in the future", apperr.ErrValidation, input)
		}
		return Duration{Days: days, Lifetime: days >= lifetimeThresholdDays}, nil
	}
	return Duration{}, fmt.Errorf("%w: %q is not a valid number of days or date", apperr.ErrValidation, input)
}

const lifetimeThresholdDays = 9999
