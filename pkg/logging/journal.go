/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: journal.go
Description: logrus hook forwarding entries to the systemd journal. Fields become
journal variables so host-side runs can be filtered with journalctl.
*/

package logging

import (
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/sirupsen/logrus"
)

// ErrJournalUnavailable is returned when no journald socket is present.
var ErrJournalUnavailable = errors.New("journald is not available")

// JournalHook sends every entry to journald.
type JournalHook struct {
	identifier string
	send       func(string, journal.Priority, map[string]string) error
}

// NewJournalHook returns a hook tagging entries with SYSLOG_IDENTIFIER.
func NewJournalHook(identifier string) (*JournalHook, error) {
	if !journal.Enabled() {
		return nil, ErrJournalUnavailable
	}
	return &JournalHook{identifier: identifier, send: journal.Send}, nil
}

// Levels implements logrus.Hook.
func (h *JournalHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook.
func (h *JournalHook) Fire(entry *logrus.Entry) error {
	vars := make(map[string]string, len(entry.Data)+1)
	vars["SYSLOG_IDENTIFIER"] = h.identifier
	for k, v := range entry.Data {
		key := journalKey(k)
		if key == "" {
			continue
		}
		vars[key] = fmt.Sprint(v)
	}
	return h.send(entry.Message, journalPriority(entry.Level), vars)
}

// journalKey maps a field name onto the journal's [A-Z0-9_] alphabet.
// Leading underscores are reserved for trusted fields and are stripped.
func journalKey(field string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(field) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.TrimLeft(b.String(), "_")
}

func journalPriority(level logrus.Level) journal.Priority {
	switch level {
	case logrus.PanicLevel:
		return journal.PriEmerg
	case logrus.FatalLevel:
		return journal.PriCrit
	case logrus.ErrorLevel:
		return journal.PriErr
	case logrus.WarnLevel:
		return journal.PriWarning
	case logrus.InfoLevel:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}
