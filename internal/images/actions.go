package images

import (
	"errors"
	"fmt"
	"os"

	"github.com/dtnitsch/picget/internal/common"
	"github.com/dtnitsch/picget/internal/setup"
	"github.com/dtnitsch/picget/models"
	"github.com/urfave/cli/v2"
)

// PageSetOutput is what the pages command prints.
type PageSetOutput struct {
	Title      string            `yaml:"title"`
	Source     string            `yaml:"source"`
	Determined bool              `yaml:"determined"`
	Pages      []models.WorkUnit `yaml:"pages"`
}

// DetailsOutput is what the details command prints.
type DetailsOutput struct {
	Pages int      `yaml:"pages_scanned"`
	Links []string `yaml:"links"`
}

// ImagesOutput is what the images command prints.
type ImagesOutput struct {
	URL    string   `yaml:"url"`
	Title  string   `yaml:"title,omitempty"`
	Images []string `yaml:"images"`
}

// PagesAction lists every listing page reachable from the seed URL.
func PagesAction(c *cli.Context) error {
	env, err := setup.NewEnv(c)
	if err != nil {
		return err
	}
	defer env.Close()

	urls, err := setup.URLs(c)
	if err != nil {
		return err
	}

	set, err := env.Harvester.ResolvePages(env.Ctx, urls[0])
	if err != nil {
		return err
	}
	if !set.Determined {
		fmt.Fprintln(os.Stderr, "No pagination found, only the seed page is listed")
	}
	return setup.PrintYAML(os.Stdout, PageSetOutput{
		Title:      set.Title,
		Source:     string(set.Source),
		Determined: set.Determined,
		Pages:      set.Pages,
	})
}

// DetailsAction collects the detail links of listing pages. With --all the
// first URL is a seed whose pages are discovered first.
func DetailsAction(c *cli.Context) error {
	env, err := setup.NewEnv(c)
	if err != nil {
		return err
	}
	defer env.Close()

	urls, err := setup.URLs(c)
	if err != nil {
		return err
	}

	pages, err := listingPages(c, env, urls)
	if err != nil {
		return err
	}

	analysis, err := env.Harvester.AnalyzePages(env.Ctx, pages)
	if err != nil {
		return err
	}
	setup.PrintSummary(os.Stderr, "pages", analysis.Summary)
	if len(analysis.Links) == 0 {
		return models.ErrNoDetailLinks
	}
	return setup.PrintYAML(os.Stdout, DetailsOutput{Pages: len(pages), Links: analysis.Links})
}

// ImagesAction prints the image URLs found on each page.
func ImagesAction(c *cli.Context) error {
	env, err := setup.NewEnv(c)
	if err != nil {
		return err
	}
	defer env.Close()

	urls, err := setup.URLs(c)
	if err != nil {
		return err
	}

	out := make([]ImagesOutput, 0, len(urls))
	for _, u := range urls {
		assets, err := env.Harvester.ResolveImages(env.Ctx, u)
		if err != nil {
			env.Logger.Error("failed to resolve images", "url", u, "error", err)
			continue
		}
		out = append(out, ImagesOutput{URL: u, Title: assets.Title, Images: assets.URLs})
	}
	return setup.PrintYAML(os.Stdout, out)
}

// DownloadAction downloads the images of detail pages, each into a folder
// named after the page title. With --all the first URL is a listing seed and
// every detail page found under it is downloaded. With --image the URLs are
// images saved straight into --dest.
func DownloadAction(c *cli.Context) error {
	env, err := setup.NewEnv(c)
	if err != nil {
		return err
	}
	defer env.Close()

	if images := c.StringSlice("image"); len(images) > 0 {
		return downloadImages(c, env, images)
	}

	urls, err := setup.URLs(c)
	if err != nil {
		return err
	}

	detailPages := urls
	if c.Bool("all") {
		pages, err := listingPages(c, env, urls)
		if err != nil {
			return err
		}
		analysis, err := env.Harvester.AnalyzePages(env.Ctx, pages)
		if err != nil {
			return err
		}
		setup.PrintSummary(os.Stderr, "pages", analysis.Summary)
		if len(analysis.Links) == 0 {
			return models.ErrNoDetailLinks
		}
		detailPages = analysis.Links
	}

	results := env.Harvester.DownloadPages(env.Ctx, detailPages)

	failedPages := 0
	for _, pd := range results {
		if pd.Err != nil {
			failedPages++
			fmt.Printf("FAILED %s: %v\n", pd.PageURL, pd.Err)
			continue
		}
		setup.PrintSummary(os.Stdout, pd.Title, pd.Summary)
		fmt.Printf("  saved to %s (summary: %s)\n", pd.Dir, pd.SummaryPath)
	}

	fmt.Printf("\nPages: %d total, %d failed\n", len(results), failedPages)
	if failedPages == len(results) && len(results) > 0 {
		return fmt.Errorf("no page could be downloaded")
	}
	if env.Ctx.Err() != nil {
		return models.ErrCancelled
	}
	return nil
}

func downloadImages(c *cli.Context, env *setup.Env, raw []string) error {
	urls, invalid := common.SanitizeAndValidateURLs(raw)
	for _, u := range invalid {
		env.Logger.Warn("Skipping invalid image URL", "url", u)
	}
	units := models.Units(urls)
	events, err := env.Harvester.DownloadBatch(env.Ctx, units, c.String("dest"), c.String("referer"),
		env.Config.Workers, env.Config.Delay)
	if err != nil {
		return err
	}
	summary := env.Progress.Drain("images", events)
	setup.PrintSummary(os.Stdout, "images", summary)
	if summary.Succeeded == 0 && summary.Failed > 0 {
		return errors.New("no image could be downloaded")
	}
	return nil
}

// listingPages returns the pages to scan: the given URLs, or with --all the
// pages discovered from the first one.
func listingPages(c *cli.Context, env *setup.Env, urls []string) ([]models.WorkUnit, error) {
	if !c.Bool("all") {
		return models.Units(urls), nil
	}
	set, err := env.Harvester.ResolvePages(env.Ctx, urls[0])
	if err != nil {
		return nil, err
	}
	env.Logger.Info("Listing pages resolved", "count", len(set.Pages), "source", set.Source)
	return set.Pages, nil
}
