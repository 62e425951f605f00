package listing

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dtnitsch/picget/internal/common"
	"github.com/dtnitsch/picget/models"
)

// ParseDetailLinks returns the detail pages linked from a listing page, as
// absolute URLs in discovery order, capped at MaxDetailLinks.
func (r *Resolver) ParseDetailLinks(pageURL string, raw []byte) ([]string, error) {
	origin := strings.TrimRight(r.cfg.SiteOrigin, "/")
	if origin == "" {
		o, err := common.Origin(pageURL)
		if err != nil {
			return nil, &models.ValidationError{Field: "url", Value: pageURL, Reason: "must be an absolute URL"}
		}
		origin = o
	}

	doc := r.decoder.Decode(raw)
	marker := regexp.QuoteMeta(r.cfg.CategoryMarker)
	category := r.Category(pageURL)

	var categoryLink *regexp.Regexp
	if category != "" {
		categoryLink = regexp.MustCompile(`href="(/` + marker + `/` + regexp.QuoteMeta(category) + `/\d+/)"`)
	}

	var links []string
	if doc.Encoded {
		if categoryLink != nil {
			links = anchorHrefs(doc.HTML, `<a[^>]+`+categoryLink.String())
		}
		if len(links) == 0 {
			links = anchorHrefs(doc.HTML, `<a[^>]+href="(/`+marker+`/\d{6,}/)"`)
		}
	}
	if len(links) == 0 && categoryLink != nil {
		for _, m := range categoryLink.FindAllSubmatch(raw, -1) {
			links = append(links, string(m[1]))
		}
	}

	if len(links) == 0 {
		return nil, fmt.Errorf("%s: %w", pageURL, models.ErrNoDetailLinks)
	}

	out := make([]string, 0, len(links))
	for _, l := range links {
		out = append(out, origin+l)
	}
	out = common.Dedupe(out)
	if limit := r.cfg.MaxDetailLinks; limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	r.logger.Info("Detail links resolved", "url", pageURL, "count", len(out))
	return out, nil
}

func anchorHrefs(html, pattern string) []string {
	re := regexp.MustCompile(pattern)
	var out []string
	for _, m := range re.FindAllStringSubmatch(html, -1) {
		out = append(out, m[1])
	}
	return out
}
