package session

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var ErrExpiresInTooLarge = errors.New("expiresIn too large")

var expiresInPattern = regexp.MustCompile(`(?i)^(-?(?:\d+)?\.?\d+) *(milliseconds?|msecs?|ms|seconds?|secs?|s|minutes?|mins?|m|hours?|hrs?|h|days?|d|weeks?|w|years?|yrs?|y)?$`)

const (
	day  = 24 * time.Hour
	week = 7 * day
	year = time.Duration(365.25 * float64(day))
)

// ParseExpiresIn parses token lifetimes such as "24h", "7d", "90 minutes" or
// "1.5h". A value without a unit is read as milliseconds.
func ParseExpiresIn(value string) (time.Duration, error) {
	trimmed := strings.TrimSpace(value)
	matches := expiresInPattern.FindStringSubmatch(trimmed)
	if matches == nil {
		return 0, fmt.Errorf("invalid expiresIn %q", value)
	}
	amount, parseError := strconv.ParseFloat(matches[1], 64)
	if parseError != nil {
		return 0, fmt.Errorf("invalid expiresIn %q: %w", value, parseError)
	}

	unit := time.Millisecond
	switch strings.ToLower(matches[2]) {
	case "years", "year", "yrs", "yr", "y":
		unit = year
	case "weeks", "week", "w":
		unit = week
	case "days", "day", "d":
		unit = day
	case "hours", "hour", "hrs", "hr", "h":
		unit = time.Hour
	case "minutes", "minute", "mins", "min", "m":
		unit = time.Minute
	case "seconds", "second", "secs", "sec", "s":
		unit = time.Second
	}

	nanoseconds := amount * float64(unit)
	if nanoseconds >= math.MaxInt64 {
		return 0, fmt.Errorf("%w: %q exceeds %s", ErrExpiresInTooLarge, value, time.Duration(math.MaxInt64))
	}
	duration := time.Duration(nanoseconds)
	if duration <= 0 {
		return 0, fmt.Errorf("expiresIn %q must be positive", value)
	}
	return duration, nil
}
