package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Block characters for 8 vertical levels, lowest first.
var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// RenderSparkline draws the most recent width values, scaled between their
// own min and max. A flat series sits on the middle level. The line is
// colored by the last value's percentage threshold when percent is true,
// and muted otherwise.
func RenderSparkline(data []float64, width int, percent bool) string {
	if len(data) == 0 || width <= 0 {
		return ""
	}
	if len(data) > width {
		data = data[len(data)-width:]
	}

	lo, hi := data[0], data[0]
	for _, v := range data {
		lo = min(lo, v)
		hi = max(hi, v)
	}

	top := len(sparkRunes) - 1
	var sb strings.Builder
	for _, v := range data {
		level := top / 2
		if hi > lo {
			level = int((v - lo) / (hi - lo) * float64(top))
			level = max(0, min(level, top))
		}
		sb.WriteRune(sparkRunes[level])
	}

	color := ColorMuted
	if percent {
		color = ThresholdColor(data[len(data)-1])
	}
	return lipgloss.NewStyle().Foreground(color).Render(sb.String())
}
