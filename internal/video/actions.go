package video

import (
	"fmt"
	"os"

	"github.com/dtnitsch/picget/internal/setup"
	"github.com/dtnitsch/picget/models"
	"github.com/dtnitsch/picget/pkg/harvester"
	"github.com/dtnitsch/picget/pkg/hls"
	"github.com/urfave/cli/v2"
)

// ManifestOutput is what the manifest command prints per page.
type ManifestOutput struct {
	URL         string `yaml:"url"`
	hls.Located `yaml:",inline"`
}

// ManifestAction prints the manifest or .mp4 references found on video pages.
func ManifestAction(c *cli.Context) error {
	env, err := setup.NewEnv(c)
	if err != nil {
		return err
	}
	defer env.Close()

	urls, err := setup.URLs(c)
	if err != nil {
		return err
	}

	out := make([]ManifestOutput, 0, len(urls))
	var lastErr error
	for _, u := range urls {
		located, err := env.Harvester.ResolveManifest(env.Ctx, u)
		if err != nil {
			env.Logger.Error("failed to locate manifest", "url", u, "error", err)
			lastErr = err
			continue
		}
		out = append(out, ManifestOutput{URL: u, Located: located})
	}
	if len(out) == 0 {
		return lastErr
	}
	return setup.PrintYAML(os.Stdout, out)
}

// SegmentsAction resolves manifests, through their variant playlists, to the
// ordered segment list.
func SegmentsAction(c *cli.Context) error {
	env, err := setup.NewEnv(c)
	if err != nil {
		return err
	}
	defer env.Close()

	urls, err := setup.URLs(c)
	if err != nil {
		return err
	}

	res := env.Harvester.ResolveAllSegments(env.Ctx, urls)
	for _, u := range res.Unresolved {
		fmt.Fprintf(os.Stderr, "UNRESOLVED %s: %s\n", u.URL, u.Reason)
	}
	if len(res.Segments) == 0 {
		return models.ErrNoSegments
	}
	return setup.PrintYAML(os.Stdout, res)
}

// VideoAction downloads a video and merges it into <title>/<title>.mp4.
// --url takes video pages, --manifest takes manifest URLs directly.
func VideoAction(c *cli.Context) error {
	env, err := setup.NewEnv(c)
	if err != nil {
		return err
	}
	defer env.Close()

	name := c.String("name")
	var results []harvester.VideoDownload
	var failed int

	if manifests := c.StringSlice("manifest"); len(manifests) > 0 {
		for _, m := range manifests {
			vd, err := env.Harvester.DownloadManifest(env.Ctx, m, name)
			failed += report(m, vd, err)
			results = append(results, vd)
		}
	} else {
		urls, err := setup.URLs(c)
		if err != nil {
			return err
		}
		for _, u := range urls {
			if env.Ctx.Err() != nil {
				break
			}
			vd, err := env.Harvester.DownloadVideo(env.Ctx, u, name)
			failed += report(u, vd, err)
			results = append(results, vd)
		}
	}

	fmt.Printf("\nVideos: %d total, %d failed\n", len(results), failed)
	if env.Ctx.Err() != nil {
		return models.ErrCancelled
	}
	if failed > 0 && failed == len(results) {
		return fmt.Errorf("no video could be downloaded")
	}
	return nil
}

// report prints the outcome of one video and returns 1 when it failed.
func report(target string, vd harvester.VideoDownload, err error) int {
	for _, u := range vd.Unresolved {
		fmt.Fprintf(os.Stderr, "UNRESOLVED %s: %s\n", u.URL, u.Reason)
	}
	if vd.Merge.Download.Total > 0 {
		setup.PrintSummary(os.Stdout, "segments", vd.Merge.Download)
	}
	if err != nil {
		fmt.Printf("FAILED %s: %v\n", target, err)
		return 1
	}
	if vd.Merge.OutputPath == "" {
		fmt.Printf("FAILED %s: no segment downloaded\n", target)
		return 1
	}
	fmt.Printf("%s: %d segments merged into %s\n", vd.Title, vd.Merge.SegmentCount, vd.Merge.OutputPath)
	for _, m := range vd.Merge.Missing {
		fmt.Printf("  missing segment %s\n", m)
	}
	return 0
}
