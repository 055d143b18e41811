package obslog

import (
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue is the canonical placeholder used for PII fields in logs.
const RedactedValue = "[REDACTED]"

// redactionAllowlist enumerates the only keys this engine will ever log
// unmasked. Nothing that can carry a resolved PII value — profile fields,
// filled form values, step values — belongs here. This is the enforcement
// point for spec.md's "PII never reaches... progress events" invariant:
// progress/log call sites log broker_id, step descriptions, and status, never
// a resolved profile value.
var redactionAllowlist = map[string]struct{}{
	"component":       {},
	"env":              {},
	"message":          {},
	"severity":         {},
	"timestamp":        {},
	"error":            {},
	"reason":           {},
	"run_id":           {},
	"broker_id":        {},
	"broker_name":      {},
	"status":           {},
	"step_position":    {},
	"step_description": {},
	"playbook_id":      {},
	"playbook_version": {},
}

// IsAllowlisted reports whether the provided key is exempt from automatic redaction.
func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// RedactionAllowlist returns a sorted copy of the log keys allowed unmasked.
// Tests use this to make sure no PII-shaped key sneaks onto the list.
func RedactionAllowlist() []string {
	keys := make([]string, 0, len(redactionAllowlist))
	for key := range redactionAllowlist {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskField returns a slog.Attr that redacts value unless key is explicitly
// allowlisted.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
