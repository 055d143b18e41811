package playbook_test

import (
	"strings"
	"testing"

	"github.com/opt-outta/engine/internal/playbook"
	"github.com/stretchr/testify/require"
)

// spokeoSteps is the literal 6-step fixture from spec.md §4.5 / §8 scenario
// S6, used to pin the canonical JSON byte-for-byte against the registry's
// own (PHP) canonicalization.
func spokeoSteps() []playbook.Step {
	return []playbook.Step{
		{
			Position:    1,
			Action:      "user_prompt",
			Value:       strPtr("Search for your Profile URL in the search bar at the top of the page.\nProfile URL Example: \"https://www.spokeo.com/Smith-Sample/Houston/TX/p12345678\""),
			Description: "Search For Profile URL",
			Instructions: strPtr("Search for your name in the database using the search bar on the top of the page to get your profile URL."),
			WaitAfterMs: 1000,
		},
		{
			Position:    2,
			Action:      "fill",
			Selector:    strPtr(`input[name="url"]`),
			Description: "Enter URL in URL",
			WaitAfterMs: 500,
		},
		{
			Position:    3,
			Action:      "fill",
			Selector:    strPtr(`input[name="email"]`),
			ProfileKey:  strPtr("email"),
			Description: "Enter email in Email Address",
			WaitAfterMs: 500,
		},
		{
			Position:    4,
			Action:      "captcha",
			Description: "Solve CAPTCHA",
			WaitAfterMs: 500,
		},
		{
			Position:    5,
			Action:      "click",
			Selector:    strPtr(`#root > div:nth-of-type(2) > div:nth-of-type(2) > div > div > form > div:nth-of-type(4) > button`),
			Description: `Click "OPT OUT"`,
			WaitAfterMs: 500,
		},
		{
			Position:    6,
			Action:      "user_prompt",
			Value:       strPtr("Check email for confirmation link and click on it to see confirmation below the form."),
			Description: "Check Email",
			Instructions: strPtr("Check email for link to click on. When you click on the link you should see a verification that it worked below the form."),
			WaitAfterMs: 1000,
		},
	}
}

func TestCanonicalJSONMatchesRegistry(t *testing.T) {
	canonical := string(playbook.Canonicalize(spokeoSteps()))

	require.True(t, strings.HasPrefix(canonical, `[{"action":"user_prompt","description":"Search For Profile URL"`))
	require.Contains(t, canonical, `https:\/\/www.spokeo.com`)
	require.Len(t, canonical, 1640)
}

func TestVerifySignatureAgainstGoldenFixture(t *testing.T) {
	v, err := playbook.NewVerifier(playbook.DefaultPublicKeyBase64)
	require.NoError(t, err)

	p := &playbook.Playbook{
		ID:         "019c6563-c451-7357-8960-f96adb3d0916",
		BrokerID:   "spokeo",
		BrokerName: "Spokeo",
		Title:      "Admin Created",
		Version:    1,
		Status:     "approved",
		Steps:      spokeoSteps(),
		Signature:  "nP+0GxNFT5r32DwMnwBPjjGrjluwXmSmu40RtnLHj1T2k54DemnZZ+o9IORIpQsDxJoaNhCM0ttZ2g46JcknCQ==",
		Upvotes:    2,
		CreatedAt:  "2025-01-01T00:00:00Z",
	}

	require.NoError(t, v.Verify(p))
}

func TestVerifyRejectsTamperedStep(t *testing.T) {
	v, err := playbook.NewVerifier(playbook.DefaultPublicKeyBase64)
	require.NoError(t, err)

	steps := spokeoSteps()
	steps[0].Description = "Tampered"
	p := &playbook.Playbook{
		ID:        "019c6563-c451-7357-8960-f96adb3d0916",
		BrokerID:  "spokeo",
		Steps:     steps,
		Signature: "nP+0GxNFT5r32DwMnwBPjjGrjluwXmSmu40RtnLHj1T2k54DemnZZ+o9IORIpQsDxJoaNhCM0ttZ2g46JcknCQ==",
	}

	require.Error(t, v.Verify(p))
}

func TestVerifyRejectsMissingSignature(t *testing.T) {
	v, err := playbook.NewVerifier(playbook.DefaultPublicKeyBase64)
	require.NoError(t, err)

	p := &playbook.Playbook{ID: "x", Steps: spokeoSteps()}
	require.Error(t, v.Verify(p))
}

func TestCanonicalizeIsOrderInvariant(t *testing.T) {
	steps := spokeoSteps()
	reversed := make([]playbook.Step, len(steps))
	for i, s := range steps {
		reversed[len(steps)-1-i] = s
	}

	require.Equal(t, playbook.Canonicalize(steps), playbook.Canonicalize(reversed))
}
