// Package pricing converts supplier price text into marked-up catalog prices.
package pricing

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidMultiplier is returned for a markup multiplier that is not a
// positive finite number.
var ErrInvalidMultiplier = errors.New("pricing: multiplier must be a positive number")

var numberRegex = regexp.MustCompile(`\d+(?:[.,]\d+)*`)

// ToPrice parses raw and applies the markup multiplier, rounded to cents.
// Text without any number counts as a price of 0.
func ToPrice(raw string, multiplier float64) (float64, error) {
	if err := ValidateMultiplier(multiplier); err != nil {
		return 0, err
	}
	return Round2(ParseAmount(raw) * multiplier), nil
}

// ValidateMultiplier rejects zero, negative, NaN and infinite multipliers.
func ValidateMultiplier(multiplier float64) error {
	if math.IsNaN(multiplier) || math.IsInf(multiplier, 0) || multiplier <= 0 {
		return ErrInvalidMultiplier
	}
	return nil
}

// ParseAmount extracts the first number in raw. A single separator is read as
// the decimal point; with mixed separators the last one is the decimal point
// and the others group thousands.
func ParseAmount(raw string) float64 {
	match := numberRegex.FindString(raw)
	if match == "" {
		return 0
	}

	lastDot := strings.LastIndexByte(match, '.')
	lastComma := strings.LastIndexByte(match, ',')
	decimal := byte(0)
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			decimal = '.'
		} else {
			decimal = ','
		}
	case lastDot >= 0 && strings.Count(match, ".") == 1:
		decimal = '.'
	case lastComma >= 0 && strings.Count(match, ",") == 1:
		decimal = ','
	}

	var b strings.Builder
	for i := 0; i < len(match); i++ {
		c := match[i]
		switch {
		case c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == decimal && i == strings.LastIndexByte(match, decimal):
			b.WriteByte('.')
		}
	}

	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
