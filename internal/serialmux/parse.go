package serialmux

import "strings"

const (
	EventTypeMeasurement = "measurement"
	EventTypeComment     = "comment"
	EventTypeConfig      = "config"
	EventTypeUnknown     = "unknown"
)

// ClassifyLine returns the event type of a line read from the device.
// Measurement lines start with a sensor tag ("L" or "R") followed by
// whitespace; the gateway reports its settings as a JSON object.
func ClassifyLine(line string) string {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return EventTypeUnknown
	case strings.HasPrefix(line, "#"):
		return EventTypeComment
	case strings.HasPrefix(line, "{"):
		return EventTypeConfig
	}
	tag, _, found := strings.Cut(line, " ")
	if !found {
		tag, _, found = strings.Cut(line, "\t")
	}
	if found && (tag == "L" || tag == "R") {
		return EventTypeMeasurement
	}
	return EventTypeUnknown
}
