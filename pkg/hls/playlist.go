package hls

import (
	"bufio"
	"net/url"
	"path"
	"strings"

	"github.com/dtnitsch/picget/internal/common"
	"github.com/dtnitsch/picget/models"
)

const (
	streamInfTag     = "#EXT-X-STREAM-INF"
	segmentExtension = ".ts"
)

// ParsePlaylist walks the lines of an m3u8 document. The line after a
// stream-variant tag is a child playlist; other non-comment lines ending in
// .ts are segments. References resolve against the playlist's directory.
func ParsePlaylist(text, manifestURL string) models.Manifest {
	var m models.Manifest
	expectVariant := false

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, streamInfTag) {
			expectVariant = true
			continue
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if expectVariant {
			m.ChildManifests = append(m.ChildManifests, common.Resolve(manifestURL, line))
			expectVariant = false
			continue
		}
		if isSegment(line) {
			m.Segments = append(m.Segments, common.Resolve(manifestURL, line))
		}
	}
	return m
}

// isSegment checks the extension of the reference's path, ignoring any query.
func isSegment(ref string) bool {
	p := ref
	if u, err := url.Parse(ref); err == nil {
		p = u.Path
	}
	return strings.EqualFold(path.Ext(p), segmentExtension)
}
