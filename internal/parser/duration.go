package parser

import (
	"fmt"
	"regexp"
	"strconv"
)

var durationPattern = regexp.MustCompile(`^(\d+)\s*(ms|s|m|h)?$`)

// unit multipliers to milliseconds
var durationUnits = map[string]int64{
	"":   1,
	"ms": 1,
	"s":  1000,
	"m":  60_000,
	"h":  3_600_000,
}

// ParseDurationMs normalizes a duration literal (`<int><unit>` with units
// ms|s|m|h, bare integers meaning milliseconds) to milliseconds.
func ParseDurationMs(lit string) (int64, error) {
	m := durationPattern.FindStringSubmatch(lit)
	if m == nil {
		return 0, fmt.Errorf("invalid duration literal %q (want <int><ms|s|m|h>)", lit)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration literal %q: %v", lit, err)
	}
	return n * durationUnits[m[2]], nil
}
