package request

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// API key status values recorded on every request.
const (
	APIKeyCorrect = "correct"
	APIKeyWrong   = "wrong"
	APIKeyNone    = "none"
)

const maxBodyBytes = 1 << 20 // 1 MB

// Metadata is the normalized view of one honeypot request.  Every field is
// best-effort: parse failures leave the field at its zero value and never
// abort analysis.
type Metadata struct {
	IP        string
	UserAgent string
	Method    string
	Path      string
	Query     map[string]string
	// Body is the decoded JSON value for JSON content types, a
	// map[string]string for form posts, and nil otherwise.
	Body    any
	Headers map[string]string

	APIKeyStatus string
	APIKeyUsed   string

	ReceivedAt time.Time

	// Filled in by the handler after the response is written.
	ResponseStatus int
	ResponseTimeMs float64
}

// Normalize extracts session-relevant fields from an incoming request.  The
// bait key is the honeypot's advertised API key; any offered credential is
// classified against it.
func Normalize(r *http.Request, baitKey string) *Metadata {
	m := &Metadata{
		Method:     r.Method,
		Path:       r.URL.Path,
		IP:         clientIP(r),
		UserAgent:  r.UserAgent(),
		Query:      flattenQuery(r.URL.Query()),
		Headers:    sanitizeHeaders(r.Header),
		ReceivedAt: time.Now().UTC(),
	}
	if m.UserAgent == "" {
		m.UserAgent = "unknown"
	}
	m.Body = parseBody(r)
	m.APIKeyStatus, m.APIKeyUsed = classifyAPIKey(r.Header, baitKey)
	return m
}

// clientIP resolves the originating address from forwarding headers.  The
// honeypot always sits behind a fronting proxy, so RemoteAddr is never
// meaningful here.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := fwd
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			first = fwd[:idx]
		}
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	return "unknown"
}

// flattenQuery reduces multi-valued query params to single strings, last
// value wins.
func flattenQuery(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			out[key] = vals[len(vals)-1]
		}
	}
	return out
}

func parseBody(r *http.Request) any {
	if r.Body == nil {
		return nil
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil || len(raw) == 0 {
		return nil
	}

	ct := strings.ToLower(r.Header.Get("Content-Type"))
	switch {
	case strings.Contains(ct, "application/json"):
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil
		}
		return v
	case strings.Contains(ct, "application/x-www-form-urlencoded"):
		form, err := url.ParseQuery(string(raw))
		if err != nil {
			return nil
		}
		return flattenQuery(form)
	default:
		return nil
	}
}

// sanitizeHeaders copies all headers except the cookie family.  Multi-valued
// headers are folded with ", ".
func sanitizeHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, vals := range h {
		lower := strings.ToLower(name)
		if lower == "cookie" || lower == "set-cookie" {
			continue
		}
		out[name] = strings.Join(vals, ", ")
	}
	return out
}

// classifyAPIKey scans headers for an offered credential.  A header qualifies
// when its value carries an sk_/sk- marker or its name looks credential-ish.
// Any qualifying value containing the bait key wins outright; otherwise the
// first qualifying header in sorted name order is reported as a wrong key.
// Sorting keeps the verdict deterministic across map iteration orders.
func classifyAPIKey(h http.Header, baitKey string) (status, used string) {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := strings.Join(h.Values(name), ", ")
		if !apiKeyCandidate(name, value) {
			continue
		}
		if baitKey != "" && strings.Contains(value, baitKey) {
			return APIKeyCorrect, value
		}
		if used == "" {
			used = value
		}
	}
	if used != "" {
		return APIKeyWrong, used
	}
	return APIKeyNone, ""
}

func apiKeyCandidate(name, value string) bool {
	lv := strings.ToLower(value)
	if strings.Contains(lv, "sk_") || strings.Contains(lv, "sk-") {
		return true
	}
	ln := strings.ToLower(name)
	return strings.Contains(ln, "api") ||
		strings.Contains(ln, "authorization") ||
		strings.Contains(ln, "x-api-key")
}
