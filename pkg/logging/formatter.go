/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: formatter.go
Description: Custom log formatters for the Akaylee probe. CustomFormatter gives
compact, optionally colored lines; ProbeFormatter adds an event prefix for the
messages the agents and drive loop emit and shortens well-known fields.
*/

package logging

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// CustomFormatter provides compact, structured logging output
type CustomFormatter struct {
	Timestamp bool
	Caller    bool
	Colors    bool
}

// Format formats a log entry
func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var output strings.Builder
	f.writeHeader(&output, entry)

	output.WriteString(entry.Message)

	if len(entry.Data) > 0 {
		output.WriteString(" ")
		output.WriteString(f.formatFields(entry.Data, f.formatValue))
	}

	output.WriteString("\n")
	return []byte(output.String()), nil
}

func (f *CustomFormatter) writeHeader(output *strings.Builder, entry *logrus.Entry) {
	if f.Timestamp {
		timestamp := entry.Time.Format("2006-01-02 15:04:05.000")
		if f.Colors {
			output.WriteString(fmt.Sprintf("\033[36m%s\033[0m ", timestamp)) // Cyan
		} else {
			output.WriteString(timestamp + " ")
		}
	}

	level := strings.ToUpper(entry.Level.String())
	if f.Colors {
		output.WriteString(fmt.Sprintf("\033[%dm%s\033[0m ", f.getLevelColor(entry.Level), level))
	} else {
		output.WriteString(level + " ")
	}
}

func (f *CustomFormatter) writeCaller(output *strings.Builder, entry *logrus.Entry) {
	if !f.Caller || !entry.HasCaller() {
		return
	}
	caller := fmt.Sprintf("%s:%d", entry.Caller.File, entry.Caller.Line)
	if f.Colors {
		output.WriteString(fmt.Sprintf("\033[33m[%s]\033[0m ", caller)) // Yellow
	} else {
		output.WriteString("[" + caller + "] ")
	}
}

// getLevelColor returns the ANSI color code for a log level
func (f *CustomFormatter) getLevelColor(level logrus.Level) int {
	switch level {
	case logrus.DebugLevel, logrus.TraceLevel:
		return 37 // White
	case logrus.InfoLevel:
		return 32 // Green
	case logrus.WarnLevel:
		return 33 // Yellow
	case logrus.ErrorLevel:
		return 31 // Red
	case logrus.FatalLevel, logrus.PanicLevel:
		return 35 // Magenta
	default:
		return 37
	}
}

// formatFields renders fields sorted by key
func (f *CustomFormatter) formatFields(fields logrus.Fields, format func(string, any) string) string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		formattedValue := format(key, fields[key])
		if f.Colors {
			parts = append(parts, fmt.Sprintf("\033[34m%s\033[0m=\033[32m%s\033[0m", key, formattedValue)) // Blue key, Green value
		} else {
			parts = append(parts, key+"="+formattedValue)
		}
	}

	return strings.Join(parts, " ")
}

// formatValue formats a field value appropriately
func (f *CustomFormatter) formatValue(_ string, value any) string {
	switch v := value.(type) {
	case time.Duration:
		return v.String()
	case time.Time:
		return v.Format("15:04:05.000")
	case error:
		return v.Error()
	case string:
		if len(v) > 80 {
			return v[:80] + "..."
		}
		return v
	case []byte:
		if len(v) > 20 {
			return fmt.Sprintf("[%d bytes]", len(v))
		}
		return fmt.Sprintf("%x", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ProbeFormatter prefixes agent and drive-loop events
type ProbeFormatter struct {
	CustomFormatter
}

// Format formats a log entry with an event prefix
func (f *ProbeFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var output strings.Builder
	f.writeHeader(&output, entry)

	if prefix := f.getProbePrefix(entry); prefix != "" {
		if f.Colors {
			output.WriteString(fmt.Sprintf("\033[35m[%s]\033[0m ", prefix)) // Magenta
		} else {
			output.WriteString("[" + prefix + "] ")
		}
	}

	f.writeCaller(&output, entry)
	output.WriteString(entry.Message)

	if len(entry.Data) > 0 {
		output.WriteString(" ")
		output.WriteString(f.formatFields(entry.Data, f.formatProbeValue))
	}

	output.WriteString("\n")
	return []byte(output.String()), nil
}

// getProbePrefix picks a prefix from the message, then the component
func (f *ProbeFormatter) getProbePrefix(entry *logrus.Entry) string {
	message := entry.Message
	switch {
	case strings.HasPrefix(message, "Command"):
		return "CMD"
	case strings.Contains(message, "Calls drained"), strings.Contains(message, "call logs"):
		return "CALLS"
	case strings.Contains(message, "blocked by policy"), strings.HasPrefix(message, "Policy"):
		return "POLICY"
	case strings.Contains(message, "GUI"):
		return "GUI"
	case strings.Contains(message, "Window hierarchy"):
		return "DUMP"
	case strings.HasPrefix(message, "Session"):
		return "SESSION"
	}

	if component, ok := entry.Data["component"].(string); ok && component != "" {
		return strings.ToUpper(component)
	}
	return ""
}

// formatProbeValue shortens well-known fields
func (f *ProbeFormatter) formatProbeValue(key string, value any) string {
	switch key {
	case "session_id":
		if s, ok := value.(string); ok && len(s) > 8 {
			return s[:8]
		}
	case "dump":
		if s, ok := value.(string); ok {
			return fmt.Sprintf("[%d chars]", len(s))
		}
	case "component":
		if s, ok := value.(string); ok {
			return s
		}
	}
	return f.formatValue(key, value)
}
