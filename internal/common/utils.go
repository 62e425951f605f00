package common

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxTitleRunes = 100
	DefaultTitle  = "images"
)

var (
	markdownLinkPattern = regexp.MustCompile(`^\[.*?\]\((https?://[^\)]+)\)$`)
	urlPattern          = regexp.MustCompile(`^https?://[a-zA-Z0-9](?:[-a-zA-Z0-9.]*[a-zA-Z0-9])?(:\d+)?(/[^\s]*)?$`)
	illegalTitleChars   = regexp.MustCompile(`[<>:"/\\|?*]`)
	illegalFileChars    = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
)

// ContentHash computes the SHA256 hash of content and returns it as hex.
func ContentHash(data []byte) string {
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash)
}

// SanitizeTitle makes a title usable as a directory or file name: it strips
// characters Windows refuses, trims, cuts to MaxTitleRunes and falls back to
// DefaultTitle when nothing is left.
func SanitizeTitle(name string) string {
	return SanitizeTitleOr(name, DefaultTitle)
}

// SanitizeTitleOr is SanitizeTitle with a caller-chosen placeholder.
func SanitizeTitleOr(name, fallback string) string {
	name = illegalTitleChars.ReplaceAllString(name, "")
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > MaxTitleRunes {
		name = string([]rune(name)[:MaxTitleRunes])
	}
	if name == "" {
		return fallback
	}
	return name
}

// FilenameFromURL returns the last path element of rawURL without its query,
// or "" when the URL has no usable file name.
func FilenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	var p string
	if err != nil {
		p = strings.SplitN(rawURL, "?", 2)[0]
	} else {
		p = u.Path
	}
	base := path.Base(p)
	if base == "." || base == "/" || base == "" {
		return ""
	}
	base = illegalFileChars.ReplaceAllString(base, "_")
	if base == ".." || strings.Trim(base, "_.") == "" {
		return ""
	}
	return base
}

// Origin returns scheme://host of rawURL.
func Origin(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid URL %q: missing scheme or host", rawURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

// Resolve makes ref absolute against base. Absolute references pass through unchanged.
func Resolve(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// Dedupe removes repeated strings, keeping first occurrences in order.
func Dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}

// SanitizeURL performs basic cleanup on URLs to handle common copy-paste issues.
// Removes whitespace, trailing punctuation and markdown artifacts.
func SanitizeURL(rawURL string) string {
	cleaned := strings.TrimSpace(rawURL)

	// [text](url) -> url
	if matches := markdownLinkPattern.FindStringSubmatch(cleaned); len(matches) > 1 {
		cleaned = matches[1]
	}

	trailingChars := []string{",", ")", "}", "]", "\"", "'", ">", ";"}
	for _, char := range trailingChars {
		cleaned = strings.TrimSuffix(cleaned, char)
	}

	leadingChars := []string{"(", "[", "<", "\"", "'"}
	for _, char := range leadingChars {
		cleaned = strings.TrimPrefix(cleaned, char)
	}

	return strings.TrimSpace(cleaned)
}

// SanitizeAndValidateURL cleans rawURL and checks it is an http(s) URL with a host.
func SanitizeAndValidateURL(rawURL string) (string, error) {
	cleaned := SanitizeURL(rawURL)
	if cleaned == "" {
		return "", fmt.Errorf("empty URL")
	}

	// Spaces must be pre-encoded as %20
	if strings.Contains(cleaned, " ") {
		return "", fmt.Errorf("URL %q contains spaces", rawURL)
	}
	if !urlPattern.MatchString(cleaned) {
		return "", fmt.Errorf("URL %q is malformed", rawURL)
	}

	parsed, err := url.Parse(cleaned)
	if err != nil {
		return "", fmt.Errorf("URL %q is malformed: %w", rawURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("URL %q must use http or https", rawURL)
	}
	if parsed.Host == "" || strings.ContainsAny(parsed.Host, "{}[]<>\"'") {
		return "", fmt.Errorf("URL %q has an invalid host", rawURL)
	}
	return cleaned, nil
}

// SanitizeAndValidateURLs sanitizes all URLs and returns (sanitized URLs, invalid URLs).
func SanitizeAndValidateURLs(urls []string) ([]string, []string) {
	sanitized := make([]string, 0, len(urls))
	var invalidURLs []string
	for _, rawURL := range urls {
		cleaned, err := SanitizeAndValidateURL(rawURL)
		if err != nil {
			invalidURLs = append(invalidURLs, rawURL)
			continue
		}
		sanitized = append(sanitized, cleaned)
	}
	return sanitized, invalidURLs
}
