// Package headers builds browser-like request headers.
package headers

import (
	"math/rand/v2"
	"net/http"

	"github.com/corpix/uarand"
)

var acceptLanguages = []string{
	"zh-CN,zh;q=0.9,en;q=0.8",
	"zh-CN,zh;q=0.8,zh-TW;q=0.7,zh-HK;q=0.5,en-US;q=0.3,en;q=0.2",
	"en-US,en;q=0.9,zh-CN;q=0.8,zh;q=0.7",
	"zh-TW,zh;q=0.9,en-US;q=0.8,en;q=0.7",
}

// Factory produces a fresh header set per request.
type Factory struct {
	// UserAgent overrides the random user agent when set.
	UserAgent string
}

func NewFactory() *Factory {
	return &Factory{}
}

// Headers returns a new header set. Referer is only set when non-empty.
func (f *Factory) Headers(referer string) http.Header {
	ua := f.UserAgent
	if ua == "" {
		ua = uarand.GetRandom()
	}

	h := http.Header{}
	h.Set("User-Agent", ua)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8")
	h.Set("Accept-Language", acceptLanguages[rand.IntN(len(acceptLanguages))])
	h.Set("Accept-Encoding", "gzip, deflate, br")
	h.Set("Connection", "keep-alive")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("Cache-Control", "max-age=0")
	if referer != "" {
		h.Set("Referer", referer)
	}
	return h
}
