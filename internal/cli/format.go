package cli

import (
	"strconv"

	"github.com/me/gotp/pkg/model"
)

// partitionName renders a partition index, using the idle keyword for
// the idle sentinel.
func partitionName(p int) string {
	if p == model.PartitionIdle {
		return "idle"
	}
	return strconv.Itoa(p)
}

// optInt renders an optional integer, "-" when absent.
func optInt(p *int) string {
	if p == nil {
		return "-"
	}
	return strconv.Itoa(*p)
}

// orDash substitutes "-" for an empty string in table cells.
func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
