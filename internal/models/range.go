package models

import "fmt"

// Range is a named relative time window bounding a historical read.
// Each token resolves to an hour window relative to the latest stored sample;
// RangeAll carries no bound.
type Range string

const (
	Range4H  Range = "4h"
	Range12H Range = "12h"
	Range1D  Range = "1d"
	Range3D  Range = "3d"
	Range1W  Range = "1w"
	RangeAll Range = "all"
)

var rangeHours = map[Range]int{
	Range4H:  4,
	Range12H: 12,
	Range1D:  24,
	Range3D:  72,
	Range1W:  168,
	RangeAll: 0,
}

// rangeAliases maps accepted spellings onto canonical tokens.
var rangeAliases = map[string]Range{
	"4h":  Range4H,
	"12h": Range12H,
	"1d":  Range1D,
	"24h": Range1D,
	"3d":  Range3D,
	"1w":  Range1W,
	"7d":  Range1W,
	"all": RangeAll,
}

// ParseRange normalizes a range token. An empty token defaults to RangeAll.
func ParseRange(token string) (Range, error) {
	if token == "" {
		return RangeAll, nil
	}
	if r, ok := rangeAliases[token]; ok {
		return r, nil
	}
	return "", fmt.Errorf("unknown range token %q", token)
}

// Hours returns the window size in hours, 0 meaning unbounded.
func (r Range) Hours() int {
	return rangeHours[r]
}
