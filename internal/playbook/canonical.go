package playbook

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/opt-outta/engine/internal/errs"
)

// CanonicalizationVersion identifies the canonical serialization this engine
// signs and verifies against. Per spec.md §9, the canonical form is a
// breaking change surface and must be versioned; this engine always
// includes the real wait_after_ms value (never the null variant the server
// has historically also produced) and refuses to verify the other form.
const CanonicalizationVersion = 1

// canonicalStep mirrors the server's alphabetical 9-key step encoding.
// Field declaration order matches the required key order, since
// encoding/json emits struct fields in declaration order:
// action, description, instructions, optional, position, profile_key,
// selector, value, wait_after_ms.
type canonicalStep struct {
	Action       string  `json:"action"`
	Description  string  `json:"description"`
	Instructions *string `json:"instructions"`
	Optional     bool    `json:"optional"`
	Position     int     `json:"position"`
	ProfileKey   *string `json:"profile_key"`
	Selector     *string `json:"selector"`
	Value        *string `json:"value"`
	WaitAfterMs  int     `json:"wait_after_ms"`
}

// Canonicalize builds the deterministic byte sequence that gets signed and
// verified: steps sorted by position, each serialized with exactly nine
// alphabetically-ordered keys, missing optionals as null, forward slashes
// escaped as \/ to match the registry's PHP json_encode (spec.md §4.5).
func Canonicalize(steps []Step) []byte {
	sorted := make([]Step, len(steps))
	copy(sorted, steps)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })

	canonical := make([]canonicalStep, len(sorted))
	for i, s := range sorted {
		canonical[i] = canonicalStep{
			Action:       s.Action,
			Description:  s.Description,
			Instructions: s.Instructions,
			Optional:     s.Optional,
			Position:     s.Position,
			ProfileKey:   s.ProfileKey,
			Selector:     s.Selector,
			Value:        s.Value,
			WaitAfterMs:  s.WaitAfterMs,
		}
	}

	// json.Marshal HTML-escapes <, >, and & by default; the registry's
	// serde_json/PHP json_encode does not, so a raw Marshal would diverge
	// from the server's bytes on any selector containing one of them (e.g.
	// "div:nth-of-type(2) > button"). Use an Encoder with SetEscapeHTML(false)
	// instead, trimming the trailing newline Encode always appends.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(canonical); err != nil {
		// Canonical steps contain only strings, bools and ints; Encode
		// cannot fail on this shape.
		panic(errs.Wrap(errs.KindCrypto, "playbook: canonicalize", err))
	}
	encoded := bytes.TrimRight(buf.Bytes(), "\n")
	return []byte(strings.ReplaceAll(string(encoded), "/", `\/`))
}
