// Package ui provides the terminal styling shared by dockhop's CLI output
// and the watch dashboard.
//
// # Color Scheme
//
// Colors are ANSI codes for broad terminal compatibility:
//
//	ColorSuccess   (green)  - healthy hosts, running containers
//	ColorError     (red)    - unreachable hosts, failures
//	ColorWarning   (yellow) - docker missing, collection failed
//	ColorInfo      (cyan)   - informational values
//	ColorMuted     (gray)   - secondary text, timing info
//	ColorSecondary (blue)   - in-progress indicators
//
// ConfigureColors switches to monochrome output for --no-color, NO_COLOR
// and output that isn't a terminal.
//
// # Tables
//
// NewTable wraps the Bubbles table with dockhop's styling; the dashboard
// uses it interactively and RenderSimpleTable renders it once for the
// status command. AutoColumns sizes columns to their content.
package ui
