package main

import (
	"fmt"
	"log"
	"os"

	"github.com/dtnitsch/picget/internal/history"
	"github.com/dtnitsch/picget/internal/images"
	"github.com/dtnitsch/picget/internal/setup"
	"github.com/dtnitsch/picget/internal/video"
	"github.com/dtnitsch/picget/pkg/help"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	// A missing .env is fine.
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		log.SetFlags(0)
		log.Fatalf("Error: %v", err)
	}
}

func newApp() *cli.App {
	urlFlags := []cli.Flag{
		&cli.StringSliceFlag{Name: "url", Aliases: []string{"u"}, Usage: "page URL (repeatable)"},
		&cli.StringFlag{Name: "urls", Usage: "comma separated page URLs"},
	}
	allFlag := &cli.BoolFlag{Name: "all", Usage: "treat the first URL as a listing seed and follow its pages"}

	return &cli.App{
		Name:                 "picget",
		Usage:                "download image galleries and HLS videos",
		Flags:                setup.GlobalFlags(),
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			{
				Name:   "pages",
				Usage:  "list the listing pages reachable from a seed URL",
				Flags:  urlFlags,
				Action: images.PagesAction,
			},
			{
				Name:   "details",
				Usage:  "collect the detail page links of listing pages",
				Flags:  append([]cli.Flag{allFlag}, urlFlags...),
				Action: images.DetailsAction,
			},
			{
				Name:   "images",
				Usage:  "print the image URLs of detail pages",
				Flags:  urlFlags,
				Action: images.ImagesAction,
			},
			{
				Name:  "download",
				Usage: "download the images of detail pages into one folder per title",
				Flags: append([]cli.Flag{
					allFlag,
					&cli.StringSliceFlag{Name: "image", Usage: "image URL to download as is (repeatable)"},
					&cli.StringFlag{Name: "dest", Value: "images", Usage: "folder for --image downloads"},
					&cli.StringFlag{Name: "referer", Usage: "Referer sent with --image downloads"},
				}, urlFlags...),
				Action: images.DownloadAction,
			},
			{
				Name:   "manifest",
				Usage:  "find the HLS manifest of video pages",
				Flags:  urlFlags,
				Action: video.ManifestAction,
			},
			{
				Name:   "segments",
				Usage:  "resolve manifests to their segment URLs",
				Flags:  urlFlags,
				Action: video.SegmentsAction,
			},
			{
				Name:  "video",
				Usage: "download and merge the video of pages or manifests",
				Flags: append([]cli.Flag{
					&cli.StringSliceFlag{Name: "manifest", Aliases: []string{"m"}, Usage: "manifest URL (repeatable)"},
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "output name instead of the page title"},
				}, urlFlags...),
				Action: video.VideoAction,
			},
			{
				Name:  "runs",
				Usage: "list recorded runs",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "maximum runs to show"},
				},
				Action: history.RunsAction,
			},
			{
				Name:      "run",
				Usage:     "show a recorded run (latest when no id is given)",
				ArgsUsage: "[run-id]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "failed", Usage: "only list failed units"},
				},
				Action: history.RunAction,
			},
			{
				Name:  "coldstart",
				Usage: "print a quick start guide",
				Action: func(c *cli.Context) error {
					fmt.Print(help.ColdstartYAML)
					return nil
				},
			},
		},
	}
}
