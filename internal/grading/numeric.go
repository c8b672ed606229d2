package grading

import (
	"math"
	"strconv"
	"strings"
)

// numericStrategy parses both sides loosely (plain floats, comma decimals,
// simple fractions like "3/4") and applies the key's absolute or relative
// tolerance. Unparseable input is simply incorrect.
type numericStrategy struct{}

func (numericStrategy) Compare(key Key, answer []string) bool {
	if len(answer) != 1 {
		return false
	}
	got, ok := parseNumberLoose(answer[0])
	if !ok {
		return false
	}
	for _, k := range key.Answers {
		want, ok := parseNumberLoose(k)
		if !ok {
			continue
		}
		diff := math.Abs(got - want)
		if diff == 0 {
			return true
		}
		if key.AbsTol > 0 && diff <= key.AbsTol {
			return true
		}
		if key.RelTol > 0 && diff <= key.RelTol*math.Abs(want) {
			return true
		}
	}
	return false
}

func parseNumberLoose(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	s = strings.ReplaceAll(s, ",", ".")
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, errN := strconv.ParseFloat(strings.TrimSpace(num), 64)
		d, errD := strconv.ParseFloat(strings.TrimSpace(den), 64)
		if errN == nil && errD == nil && d != 0 {
			return n / d, true
		}
		return 0, false
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, true
	}
	if sp := strings.Fields(s); len(sp) > 0 {
		if v, err := strconv.ParseFloat(sp[0], 64); err == nil {
			return v, true
		}
	}
	return 0, false
}
