package history

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dtnitsch/picget/internal/setup"
	"github.com/dtnitsch/picget/pkg/db"
	"github.com/urfave/cli/v2"
)

const timeLayout = "2006-01-02 15:04:05"

func openHistory(c *cli.Context) (*db.DB, error) {
	cfg, err := setup.LoadConfig(c)
	if err != nil {
		return nil, err
	}
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}

// RunsAction lists recent runs, newest first.
func RunsAction(c *cli.Context) error {
	database, err := openHistory(c)
	if err != nil {
		return err
	}
	defer database.Close()

	runs, err := database.ListRuns(c.Int("limit"))
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	fmt.Printf("%-36s %-8s %-20s %-6s %-6s %-6s %-6s %-40s\n",
		"Run ID", "Kind", "Started", "Total", "OK", "Skip", "Fail", "Target")
	fmt.Println(strings.Repeat("-", 135))

	for _, r := range runs {
		fmt.Printf("%-36s %-8s %-20s %-6d %-6d %-6d %-6d %-40s\n",
			r.RunID,
			r.Kind,
			r.CreatedAt.Local().Format(timeLayout),
			r.Total,
			r.Succeeded,
			r.Skipped,
			r.Failed,
			r.Target,
		)
	}

	fmt.Printf("\nTotal: %d runs\n", len(runs))
	fmt.Printf("\nTip: Use 'picget run <id>' to see details\n")

	return nil
}

// RunAction shows one run and its results. Without an argument the latest
// run is shown.
func RunAction(c *cli.Context) error {
	database, err := openHistory(c)
	if err != nil {
		return err
	}
	defer database.Close()

	run, err := runOrLatest(c, database)
	if err != nil {
		return err
	}

	results, err := database.GetRunResults(run.RunID)
	if err != nil {
		return fmt.Errorf("failed to get run results: %w", err)
	}

	fmt.Printf("Run %s\n", run.RunID)
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Kind:        %s\n", run.Kind)
	fmt.Printf("Target:      %s\n", run.Target)
	fmt.Printf("Started:     %s\n", run.CreatedAt.Local().Format(timeLayout))
	if run.FinishedAt.Valid {
		fmt.Printf("Finished:    %s\n", run.FinishedAt.Time.Local().Format(timeLayout))
	} else {
		fmt.Printf("Finished:    (unfinished)\n")
	}
	if run.OutputDir != "" {
		fmt.Printf("Directory:   %s\n", run.OutputDir)
	}
	if run.OutputPath != "" {
		fmt.Printf("Output:      %s\n", run.OutputPath)
	}
	fmt.Printf("Units:       %d total (%d succeeded, %d skipped, %d failed)\n",
		run.Total, run.Succeeded, run.Skipped, run.Failed)

	if len(results) == 0 {
		return nil
	}

	failedOnly := c.Bool("failed")
	fmt.Printf("\nResults (%d):\n", len(results))
	fmt.Println(strings.Repeat("-", 60))
	for _, r := range results {
		if failedOnly && r.Status != "failed" {
			continue
		}
		fmt.Printf("%4d. [%s] %s\n", r.Seq, r.Status, r.URL)
		switch {
		case r.Status == "failed":
			fmt.Printf("      Error: [%s] %s\n", r.ErrorType, r.ErrorMessage)
		case r.FilePath != "":
			fmt.Printf("      File: %s | Size: %d bytes\n", r.FilePath, r.SizeBytes)
		case r.ErrorMessage != "":
			fmt.Printf("      %s\n", r.ErrorMessage)
		}
	}
	return nil
}

// runOrLatest returns the run named by the first argument, or the latest run.
func runOrLatest(c *cli.Context, database *db.DB) (*db.Run, error) {
	if c.NArg() == 0 {
		run, err := database.LatestRun()
		if errors.Is(err, db.ErrRunNotFound) {
			return nil, fmt.Errorf("no runs found. Run 'picget download --url \"...\"' first")
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get latest run: %w", err)
		}
		return run, nil
	}

	run, err := database.GetRun(c.Args().First())
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}
