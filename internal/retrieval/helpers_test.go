package retrieval

import (
	"math"
	"strings"
)

func sqrt1m(cos float64) float64 {
	return math.Sqrt(1 - cos*cos)
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
