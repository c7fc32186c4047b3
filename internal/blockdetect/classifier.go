// Package blockdetect classifies anti-bot challenge pages from HTTP response
// metadata and body text. Classification is a pure function over its inputs
// so every consumer sees the same verdict for the same response.
package blockdetect

import (
	"fmt"
	"net/http"
	"strings"
)

// Vendor identifies the anti-bot mechanism behind a detection.
type Vendor string

const (
	VendorRecaptcha       Vendor = "recaptcha"
	VendorHCaptcha        Vendor = "hcaptcha"
	VendorTurnstile       Vendor = "turnstile"
	VendorCloudflareBlock Vendor = "cloudflare_block"
	VendorGenericBlock    Vendor = "generic_block"
	VendorUnknown         Vendor = "unknown"
)

// Detection is the classifier verdict for one response.
type Detection struct {
	Present    bool
	Vendor     Vendor
	Confidence float64
	Reason     string
}

// maxBodyScan caps how much of the body participates in pattern matching.
const maxBodyScan = 200_000

// urlHints are URL substrings that raise confidence but never establish a
// vendor on their own.
var urlHints = []string{
	"captcha",
	"challenge",
	"robot",
	"verify-human",
	"challenges.cloudflare.com",
}

// genericPhrases are verification strings common to many block pages. A
// single hit is ordinary legal boilerplate; two or more combined with a
// blocking status code are treated as a real wall.
var genericPhrases = []string{
	"please verify you are a human",
	"are you a robot",
	"access has been denied",
	"automation tools to browse the website",
}

// Classify inspects one HTTP response for anti-bot challenge signals. Rules
// run in order: vendor widget signatures win outright, the Cloudflare
// challenge phrase fills in when no vendor matched, and generic verification
// text only counts when at least two distinct phrases co-occur with a
// blocking status. URL and header hints adjust confidence only.
func Classify(statusCode int, rawURL string, headers http.Header, body []byte) Detection {
	if len(body) == 0 {
		return Detection{}
	}
	if len(body) > maxBodyScan {
		body = body[:maxBodyScan]
	}
	bodyLC := strings.ToLower(string(body))

	var vendor Vendor
	var confidence float64
	var reasons []string

	urlLC := strings.ToLower(rawURL)
	for _, hint := range urlHints {
		if strings.Contains(urlLC, hint) {
			confidence = 0.6
			reasons = append(reasons, "captcha/challenge in URL")
			break
		}
	}

	server := strings.ToLower(headers.Get("Server"))
	if strings.Contains(server, "cloudflare") || headers.Get("Cf-Ray") != "" {
		if statusCode == http.StatusForbidden || statusCode == http.StatusServiceUnavailable {
			confidence = max(confidence, 0.7)
			reasons = append(reasons, "cloudflare + blocking status")
		}
	}

	switch {
	case strings.Contains(bodyLC, "g-recaptcha") || strings.Contains(bodyLC, "recaptcha/api.js"):
		vendor = VendorRecaptcha
		confidence = 0.95
		reasons = append(reasons, "recaptcha widget/script")
	case strings.Contains(bodyLC, "h-captcha") || strings.Contains(bodyLC, "hcaptcha.com/1/api.js"):
		vendor = VendorHCaptcha
		confidence = 0.95
		reasons = append(reasons, "hcaptcha widget/script")
	case strings.Contains(bodyLC, "cf-turnstile") || strings.Contains(bodyLC, "challenges.cloudflare.com/turnstile"):
		vendor = VendorTurnstile
		confidence = 0.95
		reasons = append(reasons, "turnstile widget")
	}

	if strings.Contains(bodyLC, "checking your browser before accessing") {
		if vendor == "" {
			vendor = VendorCloudflareBlock
		}
		confidence = max(confidence, 0.9)
		reasons = append(reasons, "cloudflare browser check")
	}

	hits := 0
	for _, phrase := range genericPhrases {
		if strings.Contains(bodyLC, phrase) {
			hits++
		}
	}
	if hits >= 2 && blockingStatus(statusCode) {
		if vendor == "" {
			vendor = VendorGenericBlock
		}
		confidence = max(confidence, 0.8)
		reasons = append(reasons, fmt.Sprintf("generic verification text (%d hits) + %d", hits, statusCode))
	}

	if vendor == "" {
		return Detection{}
	}
	return Detection{
		Present:    true,
		Vendor:     vendor,
		Confidence: confidence,
		Reason:     strings.Join(reasons, "; "),
	}
}

func blockingStatus(code int) bool {
	switch code {
	case http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	}
	return false
}
