package alerts

import (
	"fmt"
	"strings"

	"github.com/skyway/adminboard/server/internal/config"
	"github.com/skyway/adminboard/server/internal/realtime"
)

// matches reports whether rule applies to c.
//
// An empty or "*" table matches every table; an empty event list or "*"
// matches every change type. Resync changes never match.
func matches(rule config.AlertRule, c realtime.Change) bool {
	if c.Type == realtime.Resync {
		return false
	}
	if rule.Table != "" && rule.Table != "*" && rule.Table != c.Topic {
		return false
	}
	if len(rule.Events) == 0 {
		return true
	}
	for _, ev := range rule.Events {
		if ev == "*" || strings.EqualFold(ev, string(c.Type)) {
			return true
		}
	}
	return false
}

// recordID extracts the row id from the new record, or the old one for deletes.
func recordID(c realtime.Change) string {
	for _, rec := range []map[string]any{c.Record, c.OldRecord} {
		if v, ok := rec["id"]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	return ""
}

// describe renders a one-line summary of c, e.g. "insert on jet_bookings (id 42)".
func describe(c realtime.Change) string {
	s := strings.ToLower(string(c.Type)) + " on " + c.Topic
	if id := recordID(c); id != "" {
		s += " (id " + id + ")"
	}
	if st, ok := c.Record["status"].(string); ok && st != "" {
		s += ", status " + st
	}
	return s
}
