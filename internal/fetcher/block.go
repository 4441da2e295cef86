package fetcher

import (
	"fmt"
	"net/http"
	"strings"
)

// BlockType names the anti-bot wall a response came from.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

// challengeMaxBytes bounds the body scan. Challenge interstitials are small;
// real listing pages are far larger and often embed a captcha widget for
// their login forms.
const challengeMaxBytes = 16 << 10

// BlockedError reports a challenge page served in place of the content.
type BlockedError struct {
	URL        string
	StatusCode int
	Type       BlockType
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked by %s wall (http %d) at %s", e.Type, e.StatusCode, e.URL)
}

// DetectBlock inspects a response for signs of anti-bot protection.
func DetectBlock(status int, header http.Header, body string) BlockType {
	if status == http.StatusForbidden || status == http.StatusServiceUnavailable {
		if header.Get("cf-ray") != "" || header.Get("cf-mitigated") != "" ||
			strings.EqualFold(header.Get("server"), "cloudflare") {
			return BlockCloudflare
		}
	}

	if len(body) > challengeMaxBytes {
		return BlockNone
	}
	lower := strings.ToLower(body)

	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") ||
		strings.Contains(lower, "cf-chl-") {
		return BlockCloudflare
	}

	if strings.Contains(lower, "px-captcha") ||
		strings.Contains(lower, "_incapsula_resource") ||
		strings.Contains(lower, "g-recaptcha") && !strings.Contains(lower, "<form") {
		return BlockCaptcha
	}

	if strings.Contains(lower, "<noscript") && strings.Contains(lower, "enable javascript") {
		return BlockJSShell
	}
	if strings.Contains(lower, `meta http-equiv="refresh"`) {
		return BlockJSShell
	}

	return BlockNone
}
