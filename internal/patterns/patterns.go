package patterns

import (
	"bufio"
	"embed"
	"regexp"
	"strings"
)

//go:embed data/*.txt
var patternData embed.FS

// Compiled pattern sets — loaded once at init.
var (
	sqlInjectionRes []*regexp.Regexp
	botIndicators   []string // plain lowercase substring match
	docsPaths       []string
	openAPIPaths    []string
	adminPaths      []string
	internalPaths   []string
)

func init() {
	sqlInjectionRes = loadRegexFile("data/sql_injection.txt")
	botIndicators = loadStringFile("data/bot_indicators.txt")
	docsPaths = loadStringFile("data/docs_paths.txt")
	openAPIPaths = loadStringFile("data/openapi_paths.txt")
	adminPaths = loadStringFile("data/admin_paths.txt")
	internalPaths = loadStringFile("data/internal_paths.txt")
}

// loadRegexFile reads a file of regex patterns (one per line, # comments) and
// compiles them case-insensitively.  Invalid patterns are silently skipped.
func loadRegexFile(name string) []*regexp.Regexp {
	f, err := patternData.Open(name)
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []*regexp.Regexp
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		re, err := regexp.Compile("(?i)" + line)
		if err != nil {
			continue // skip unparseable patterns
		}
		out = append(out, re)
	}
	return out
}

// loadStringFile reads a file of plain string patterns (one per line).
func loadStringFile(name string) []string {
	f, err := patternData.Open(name)
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, strings.ToLower(line))
	}
	return out
}

// MatchSQLInjection reports whether the text contains a SQL injection probe.
// The caller is expected to pass serialized request content (query params and
// body); the compiled patterns are case-insensitive.
func MatchSQLInjection(text string) bool {
	for _, re := range sqlInjectionRes {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// MatchBotUserAgent reports whether the user agent carries a known automation
// or AI tooling marker.
func MatchBotUserAgent(ua string) bool {
	lower := strings.ToLower(ua)
	for _, ind := range botIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}

// IsDocsPath reports whether the request path targets human-readable docs.
func IsDocsPath(path string) bool { return containsAny(path, docsPaths) }

// IsOpenAPIPath reports whether the request path targets a machine-readable
// API schema.  Agents pull these to plan their next calls.
func IsOpenAPIPath(path string) bool { return containsAny(path, openAPIPaths) }

// IsAdminPath reports whether the request path probes an admin surface.
func IsAdminPath(path string) bool { return containsAny(path, adminPaths) }

// IsInternalPath reports whether the request path probes internal endpoints.
func IsInternalPath(path string) bool { return containsAny(path, internalPaths) }

func containsAny(path string, fragments []string) bool {
	lower := strings.ToLower(path)
	for _, frag := range fragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// Counts returns the number of loaded patterns per set for startup logging.
func Counts() map[string]int {
	return map[string]int{
		"sql_injection":  len(sqlInjectionRes),
		"bot_indicators": len(botIndicators),
		"docs_paths":     len(docsPaths),
		"openapi_paths":  len(openAPIPaths),
		"admin_paths":    len(adminPaths),
		"internal_paths": len(internalPaths),
	}
}
