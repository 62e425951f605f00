package harvester

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dtnitsch/picget/models"
	"github.com/dtnitsch/picget/pkg/artifact_manager"
	"github.com/dtnitsch/picget/pkg/db"
	"github.com/dtnitsch/picget/pkg/decoder"
	"github.com/dtnitsch/picget/pkg/session"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const segmentCount = 5

// testSite serves a two-page gallery, its detail pages, a video page and
// its playlists.
func testSite(t *testing.T) *httptest.Server {
	t.Helper()
	html := func(w http.ResponseWriter, body []byte) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(body)
	}

	pages := map[string][]byte{
		"/art/pic/": wrapPayload("_h", `<title>Pics</title>
<a href="/art/pic/101/">one</a><a href="/art/pic/102/">two</a>
<div class="pager"><a href="/art/pic/index_2.html">2</a><a href="/art/pic/index_2.html">尾页</a></div>`),
		"/art/pic/index_2.html": wrapPayload("_h", `<title>Pics</title>
<a href="/art/pic/103/">three</a><a href="/art/pic/101/">again</a>`),
		"/art/pic/101/": wrapPayload("_h", `<title>Album One</title>
<img src="/img/1.jpg"><img src="/img/2.jpg"><img src="/img/dup-a.jpg"><img src="/img/dup-b.jpg">`),
		"/art/pic/102/": wrapPayload("_h", `<title>Empty</title><p>nothing here</p>`),
		"/art/pic/103/": wrapPayload("_h", `<title>Album Three</title><img src="/img/3.jpg">`),
		"/art/pic/104/": wrapPayload("_h", `<title>Album Four</title><img src="/img/logo.jpg"><img src="/img/4.jpg">`),
		"/art/pic/105/": wrapPayload("_h", `<title>Album Five</title><img src="/img/logo.jpg"><img src="/img/5.jpg">`),
		"/video/1/": []byte(`<html><head><title>My Clip</title></head><body>
<div id="player" class="dplayer"><script>var dp = new DPlayer({"video":{"url":"\/hls\/master.m3u8"}});</script></div>
</body></html>`),
		"/video/none/": []byte(`<html><head><title>No Video</title></head><body><p>gone</p></body></html>`),
	}

	var playlist strings.Builder
	playlist.WriteString("#EXTM3U\n#EXT-X-TARGETDURATION:1\n")
	for i := range segmentCount {
		fmt.Fprintf(&playlist, "#EXTINF:1,\n%03d.ts\n", i)
	}
	playlist.WriteString("#EXT-X-ENDLIST\n")

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		html(w, body)
	})
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		name := path.Base(r.URL.Path)
		if strings.HasPrefix(name, "dup-") {
			_, _ = w.Write([]byte("same image"))
			return
		}
		_, _ = w.Write([]byte("image " + name))
	})
	mux.HandleFunc("/hls/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=800000\nlow/index.m3u8\n"))
	})
	mux.HandleFunc("/hls/low/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(playlist.String()))
	})
	mux.HandleFunc("/hls/low/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<" + path.Base(r.URL.Path) + ">"))
	})
	mux.HandleFunc("/media/clip.mp4", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("mp4 bytes"))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig() *models.Config {
	cfg := models.DefaultConfig()
	cfg.OutputDir = "out"
	cfg.Workers = 4
	cfg.Delay = 0
	cfg.Jitter = 0
	cfg.PageTimeout = 5 * time.Second
	cfg.SegmentTimeout = 5 * time.Second
	return cfg
}

func newHarvester(t *testing.T, opts Options) *Harvester {
	t.Helper()
	if opts.Fs == nil {
		opts.Fs = afero.NewMemMapFs()
	}
	h, err := New(testConfig(), nil, opts)
	require.NoError(t, err)
	return h
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 0
	_, err := New(cfg, nil, Options{Fs: afero.NewMemMapFs()})
	var ve *models.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "workers", ve.Field)
}

func TestResolvePages(t *testing.T) {
	srv := testSite(t)
	h := newHarvester(t, Options{})

	set, err := h.ResolvePages(context.Background(), srv.URL+"/art/pic/")
	require.NoError(t, err)
	assert.True(t, set.Determined)
	require.Len(t, set.Pages, 2)
	assert.Equal(t, srv.URL+"/art/pic/", set.Pages[0].URL)
	assert.Equal(t, srv.URL+"/art/pic/index_2.html", set.Pages[1].URL)
	assert.Equal(t, "Pics", set.Title)
}

func TestResolvePages_InvalidURL(t *testing.T) {
	h := newHarvester(t, Options{})
	_, err := h.ResolvePages(context.Background(), "ftp://nope")
	var ve *models.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestResolveDetailLinks(t *testing.T) {
	srv := testSite(t)
	h := newHarvester(t, Options{})

	links, err := h.ResolveDetailLinks(context.Background(), srv.URL+"/art/pic/")
	require.NoError(t, err)
	assert.Equal(t, []string{srv.URL + "/art/pic/101/", srv.URL + "/art/pic/102/"}, links)
}

func TestResolveImages(t *testing.T) {
	srv := testSite(t)
	h := newHarvester(t, Options{})

	assets, err := h.ResolveImages(context.Background(), srv.URL+"/art/pic/101/")
	require.NoError(t, err)
	assert.Equal(t, "Album One", assets.Title)
	assert.Equal(t, []string{
		srv.URL + "/img/1.jpg",
		srv.URL + "/img/2.jpg",
		srv.URL + "/img/dup-a.jpg",
		srv.URL + "/img/dup-b.jpg",
	}, assets.URLs)

	empty, err := h.ResolveImages(context.Background(), srv.URL+"/art/pic/102/")
	require.NoError(t, err)
	assert.Empty(t, empty.URLs)
}

func TestAnalyzePages(t *testing.T) {
	srv := testSite(t)
	h := newHarvester(t, Options{})

	set, err := h.ResolvePages(context.Background(), srv.URL+"/art/pic/")
	require.NoError(t, err)

	analysis, err := h.AnalyzePages(context.Background(), set.Pages)
	require.NoError(t, err)
	assert.Equal(t, []string{
		srv.URL + "/art/pic/101/",
		srv.URL + "/art/pic/102/",
		srv.URL + "/art/pic/103/",
	}, analysis.Links)
	assert.Equal(t, 2, analysis.Summary.Succeeded)
	assert.Equal(t, 0, analysis.Summary.Failed)
}

func TestDownloadPage(t *testing.T) {
	srv := testSite(t)
	fs := afero.NewMemMapFs()

	var mu sync.Mutex
	events := 0
	h := newHarvester(t, Options{Fs: fs, OnProgress: func(stage string, p models.Progress) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "images", stage)
		events++
	}})

	pd, err := h.DownloadPage(context.Background(), srv.URL+"/art/pic/101/")
	require.NoError(t, err)
	assert.Equal(t, "Album One", pd.Title)
	assert.Equal(t, filepath.Join("out", "Album One"), pd.Dir)
	assert.Equal(t, 4, pd.Summary.Total)
	assert.Equal(t, 3, pd.Summary.Succeeded)
	assert.Equal(t, 1, pd.Summary.Skipped)
	assert.Equal(t, 4, events)

	data, err := afero.ReadFile(fs, filepath.Join(pd.Dir, "1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "image 1.jpg", string(data))

	files, err := h.Files().List(pd.Dir, ".jpg")
	require.NoError(t, err)
	assert.Len(t, files, 3)

	s, err := session.ReadSummary(fs, pd.Dir)
	require.NoError(t, err)
	assert.Equal(t, session.KindImages, s.Kind)
	assert.Equal(t, srv.URL+"/art/pic/101/", s.Target)
	assert.Equal(t, 3, s.Succeeded)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, filepath.Join(pd.Dir, session.SummaryFile), pd.SummaryPath)

	exists, err := afero.Exists(fs, filepath.Join("out", session.IndexFile))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDownloadPage_Errors(t *testing.T) {
	srv := testSite(t)
	h := newHarvester(t, Options{})

	pd, err := h.DownloadPage(context.Background(), srv.URL+"/art/pic/102/")
	assert.True(t, errors.Is(err, models.ErrNoImages))
	assert.Equal(t, err, pd.Err)

	_, err = h.DownloadPage(context.Background(), srv.URL+"/art/pic/404/")
	var te *models.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusNotFound, te.StatusCode)
}

func TestDownloadPages(t *testing.T) {
	srv := testSite(t)
	h := newHarvester(t, Options{})

	results := h.DownloadPages(context.Background(), []string{
		srv.URL + "/art/pic/101/",
		srv.URL + "/art/pic/102/",
		srv.URL + "/art/pic/103/",
	})
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.True(t, errors.Is(results[1].Err, models.ErrNoImages))
	assert.NoError(t, results[2].Err)
	assert.Equal(t, "Album Three", results[2].Title)
	assert.Equal(t, 1, results[2].Summary.Succeeded)
}

func TestDownloadPages_DuplicatesAcrossPages(t *testing.T) {
	srv := testSite(t)
	fs := afero.NewMemMapFs()
	h := newHarvester(t, Options{Fs: fs})

	results := h.DownloadPages(context.Background(), []string{
		srv.URL + "/art/pic/104/",
		srv.URL + "/art/pic/105/",
	})
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	require.NoError(t, results[1].Err)

	assert.Equal(t, 2, results[0].Summary.Succeeded)
	assert.Equal(t, 0, results[0].Summary.Skipped)
	assert.Equal(t, 1, results[1].Summary.Succeeded)
	assert.Equal(t, 1, results[1].Summary.Skipped)

	logo, err := afero.Exists(fs, filepath.Join("out", "Album Five", "logo.jpg"))
	require.NoError(t, err)
	assert.False(t, logo)

	// Separate page downloads keep their own filter.
	pd, err := h.DownloadPage(context.Background(), srv.URL+"/art/pic/105/")
	require.NoError(t, err)
	assert.Equal(t, 0, pd.Summary.Skipped)
}

func TestDownloadPages_Cancelled(t *testing.T) {
	srv := testSite(t)
	h := newHarvester(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := h.DownloadPages(ctx, []string{srv.URL + "/art/pic/101/", srv.URL + "/art/pic/103/"})
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, errors.Is(r.Err, models.ErrCancelled))
	}
}

func TestDownloadVideo(t *testing.T) {
	srv := testSite(t)
	fs := afero.NewMemMapFs()
	h := newHarvester(t, Options{Fs: fs})

	vd, err := h.DownloadVideo(context.Background(), srv.URL+"/video/1/", "")
	require.NoError(t, err)
	assert.Equal(t, "My Clip", vd.Title)
	assert.Equal(t, []string{srv.URL + "/hls/master.m3u8"}, vd.Manifests)
	assert.Len(t, vd.Segments, segmentCount)
	assert.Empty(t, vd.Unresolved)

	dir := filepath.Join("out", "My Clip")
	assert.Equal(t, artifact_manager.VideoPath(dir, "My Clip"), vd.Merge.OutputPath)
	assert.Equal(t, segmentCount, vd.Merge.SegmentCount)
	assert.Equal(t, segmentCount, vd.Merge.DeletedCount)

	var want strings.Builder
	for i := range segmentCount {
		fmt.Fprintf(&want, "<%03d.ts>", i)
	}
	data, err := afero.ReadFile(fs, vd.Merge.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, want.String(), string(data))

	left, err := h.Files().List(dir, artifact_manager.SegmentExt)
	require.NoError(t, err)
	assert.Empty(t, left)

	s, err := session.ReadSummary(fs, dir)
	require.NoError(t, err)
	assert.Equal(t, session.KindVideo, s.Kind)
	assert.Equal(t, vd.Merge.OutputPath, s.Output)
}

func TestDownloadVideo_NameOverridesTitle(t *testing.T) {
	srv := testSite(t)
	fs := afero.NewMemMapFs()
	h := newHarvester(t, Options{Fs: fs})

	vd, err := h.DownloadVideo(context.Background(), srv.URL+"/video/1/", "Holiday: day 1")
	require.NoError(t, err)
	assert.Equal(t, "Holiday day 1", vd.Title)
	assert.Equal(t, filepath.Join("out", "Holiday day 1", "Holiday day 1.mp4"), vd.Merge.OutputPath)
}

func TestDownloadVideo_NoManifest(t *testing.T) {
	srv := testSite(t)
	h := newHarvester(t, Options{})

	_, err := h.DownloadVideo(context.Background(), srv.URL+"/video/none/", "")
	assert.True(t, errors.Is(err, models.ErrNoManifest))
}

func TestDownloadManifest_DirectMP4(t *testing.T) {
	srv := testSite(t)
	fs := afero.NewMemMapFs()
	h := newHarvester(t, Options{Fs: fs})

	vd, err := h.DownloadManifest(context.Background(), srv.URL+"/media/clip.mp4", "clip")
	require.NoError(t, err)
	assert.Equal(t, []string{srv.URL + "/media/clip.mp4"}, vd.Segments)

	data, err := afero.ReadFile(fs, filepath.Join("out", "clip", "clip.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "mp4 bytes", string(data))
}

func TestHistoryRecordsRuns(t *testing.T) {
	srv := testSite(t)
	history, err := db.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = history.Close() })

	h := newHarvester(t, Options{History: history})
	_, err = h.DownloadPage(context.Background(), srv.URL+"/art/pic/101/")
	require.NoError(t, err)

	runs, err := history.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, session.KindImages, runs[0].Kind)
	assert.Equal(t, 4, runs[0].Total)
	assert.Equal(t, 3, runs[0].Succeeded)
	assert.Equal(t, 1, runs[0].Skipped)
	assert.True(t, runs[0].FinishedAt.Valid)

	results, err := history.GetRunResults(runs[0].RunID)
	require.NoError(t, err)
	assert.Len(t, results, 4)
}

// wrapPayload embeds html in a page the way the target site does.
func wrapPayload(varName, html string) []byte {
	return []byte(`<html><head><script>var ` + varName + `="` + decoder.Encode(html) + `";</script></head><body></body></html>`)
}
