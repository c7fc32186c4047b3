package blockdetect

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyEmptyBody(t *testing.T) {
	d := Classify(403, "https://example.org", http.Header{}, nil)
	require.False(t, d.Present)
	require.Zero(t, d.Confidence)
}

func TestClassifyVendorSignatures(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		vendor Vendor
	}{
		{"recaptcha widget", `<div class="g-recaptcha" data-sitekey="k"></div>`, VendorRecaptcha},
		{"recaptcha script", `<script src="https://www.google.com/recaptcha/api.js"></script>`, VendorRecaptcha},
		{"hcaptcha widget", `<div class="h-captcha"></div>`, VendorHCaptcha},
		{"turnstile widget", `<div class="cf-turnstile"></div>`, VendorTurnstile},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Classify(200, "https://example.org", http.Header{}, []byte(tc.body))
			require.True(t, d.Present)
			require.Equal(t, tc.vendor, d.Vendor)
			require.InDelta(t, 0.95, d.Confidence, 0.001)
		})
	}
}

func TestClassifyCloudflareChallengePhrase(t *testing.T) {
	body := []byte("<html>Checking your browser before accessing example.org</html>")
	d := Classify(503, "https://example.org", http.Header{}, body)
	require.True(t, d.Present)
	require.Equal(t, VendorCloudflareBlock, d.Vendor)
	require.GreaterOrEqual(t, d.Confidence, 0.9)
}

func TestClassifyChallengePhraseDoesNotOverwriteVendor(t *testing.T) {
	body := []byte(`<div class="cf-turnstile"></div> checking your browser before accessing`)
	d := Classify(403, "https://example.org", http.Header{}, body)
	require.True(t, d.Present)
	require.Equal(t, VendorTurnstile, d.Vendor)
	require.InDelta(t, 0.95, d.Confidence, 0.001)
}

func TestClassifyGenericPhrases(t *testing.T) {
	one := []byte("<p>Are you a robot?</p>")
	two := []byte("<p>Are you a robot? Please verify you are a human.</p>")

	// A single phrase never triggers, regardless of status.
	d := Classify(403, "https://example.org", http.Header{}, one)
	require.False(t, d.Present)

	// Two phrases still need a blocking status code.
	d = Classify(200, "https://example.org", http.Header{}, two)
	require.False(t, d.Present)

	d = Classify(403, "https://example.org", http.Header{}, two)
	require.True(t, d.Present)
	require.Equal(t, VendorGenericBlock, d.Vendor)
	require.InDelta(t, 0.8, d.Confidence, 0.001)
}

func TestClassifyURLHintRaisesConfidenceOnly(t *testing.T) {
	d := Classify(200, "https://example.org/captcha", http.Header{}, []byte("<html>plain page</html>"))
	require.False(t, d.Present, "URL hints must never establish presence on their own")

	plain := Classify(503, "https://example.org", http.Header{}, []byte("checking your browser before accessing"))
	hinted := Classify(503, "https://example.org/challenge", http.Header{}, []byte("checking your browser before accessing"))
	require.True(t, plain.Present)
	require.True(t, hinted.Present)
	require.GreaterOrEqual(t, hinted.Confidence, plain.Confidence)
}

func TestClassifyCloudflareHeaderSignal(t *testing.T) {
	h := http.Header{}
	h.Set("Server", "cloudflare")
	body := []byte("checking your browser before accessing")

	d := Classify(503, "https://example.org", h, body)
	require.True(t, d.Present)
	require.GreaterOrEqual(t, d.Confidence, 0.9)
	require.Contains(t, d.Reason, "cloudflare + blocking status")
}
