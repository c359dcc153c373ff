package agentloop

import (
	"fmt"
	"strings"
)

// TruncationMode selects which part of an oversized output survives.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

const defaultCharLimit = 30000

// DefaultToolCharLimits caps how much of a builtin tool's output is sent back
// to the model.
var DefaultToolCharLimits = map[string]int{
	"read_file":  50000,
	"shell":      30000,
	"glob":       20000,
	"write_file": 1000,
}

// DefaultToolLineLimits is applied after the character limit.
var DefaultToolLineLimits = map[string]int{
	"shell": 256,
	"glob":  500,
}

var toolTruncationModes = map[string]TruncationMode{
	"glob":       TruncateTail,
	"write_file": TruncateTail,
}

// Truncator shortens tool output before it enters the transcript. Hook
// events still carry the full output.
type Truncator struct {
	charLimits map[string]int
	lineLimits map[string]int
}

// NewTruncator builds a Truncator; nil maps fall back to the defaults and
// entries in the given maps override them per tool.
func NewTruncator(charLimits, lineLimits map[string]int) *Truncator {
	t := &Truncator{charLimits: map[string]int{}, lineLimits: map[string]int{}}
	for k, v := range DefaultToolCharLimits {
		t.charLimits[k] = v
	}
	for k, v := range DefaultToolLineLimits {
		t.lineLimits[k] = v
	}
	for k, v := range charLimits {
		t.charLimits[k] = v
	}
	for k, v := range lineLimits {
		t.lineLimits[k] = v
	}
	return t
}

// Truncate applies the character limit, then the line limit, for toolName.
func (t *Truncator) Truncate(toolName, output string) string {
	limit, ok := t.charLimits[toolName]
	if !ok {
		limit = defaultCharLimit
	}
	mode, ok := toolTruncationModes[toolName]
	if !ok {
		mode = TruncateHeadTail
	}
	result := TruncateOutput(output, limit, mode)
	if lines := t.lineLimits[toolName]; lines > 0 {
		result = TruncateLines(result, lines)
	}
	return result
}

// TruncateOutput applies a character limit.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}
	removed := len(output) - maxChars
	if mode == TruncateTail {
		return fmt.Sprintf("[output truncated: first %d characters removed]\n\n", removed) +
			output[len(output)-maxChars:]
	}
	half := maxChars / 2
	return output[:half] +
		fmt.Sprintf("\n\n[output truncated: %d characters removed from the middle; rerun with narrower parameters to see them]\n\n", removed) +
		output[len(output)-half:]
}

// TruncateLines keeps the first and last lines around an omission marker.
func TruncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if maxLines <= 0 || len(lines) <= maxLines {
		return output
	}
	head := maxLines / 2
	tail := maxLines - head
	omitted := len(lines) - head - tail
	return strings.Join(lines[:head], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tail:], "\n")
}
