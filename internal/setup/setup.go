// Package setup turns command line flags into a ready Harvester and holds
// the output helpers shared by the CLI actions.
package setup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dtnitsch/picget/internal/common"
	"github.com/dtnitsch/picget/models"
	"github.com/dtnitsch/picget/pkg/db"
	"github.com/dtnitsch/picget/pkg/dedup"
	"github.com/dtnitsch/picget/pkg/harvester"
	"github.com/urfave/cli/v2"
)

// GlobalFlags are accepted by every command. Each can also be set through
// its PICGET_* environment variable.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file", EnvVars: []string{"PICGET_CONFIG"}},
		&cli.StringFlag{Name: "output-dir", Aliases: []string{"o"}, Usage: "download root", EnvVars: []string{"PICGET_OUTPUT_DIR"}},
		&cli.IntFlag{Name: "workers", Aliases: []string{"w"}, Usage: fmt.Sprintf("concurrent downloads (%d-%d)", models.MinWorkers, models.MaxWorkers), EnvVars: []string{"PICGET_WORKERS"}},
		&cli.Float64Flag{Name: "delay", Usage: "seconds a worker pauses after each unit", EnvVars: []string{"PICGET_DELAY"}},
		&cli.Float64Flag{Name: "jitter", Usage: "random extra seconds added to the delay", EnvVars: []string{"PICGET_JITTER"}},
		&cli.StringFlag{Name: "user-agent", Usage: "fixed User-Agent instead of a random one", EnvVars: []string{"PICGET_USER_AGENT"}},
		&cli.StringFlag{Name: "cache-dir", Usage: "cache fetched pages here", EnvVars: []string{"PICGET_CACHE_DIR"}},
		&cli.StringFlag{Name: "redis-url", Usage: "share the duplicate filter through redis", EnvVars: []string{"PICGET_REDIS_URL"}},
		&cli.StringFlag{Name: "db", Usage: "run history database", EnvVars: []string{"PICGET_DB"}},
		&cli.StringFlag{Name: "site-origin", Usage: "origin used for detail links", EnvVars: []string{"PICGET_SITE_ORIGIN"}},
		&cli.BoolFlag{Name: "require-multi-page", Usage: "fail when no pagination is found"},
		&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "only log errors, no progress bars"},
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "debug logging"},
	}
}

// Logger builds the JSON stderr logger for an action.
func Logger(c *cli.Context) *slog.Logger {
	logLevel := slog.LevelInfo
	if c.Bool("quiet") {
		logLevel = slog.LevelError
	} else if c.Bool("verbose") {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

// LoadConfig reads the config file and applies the flags that were set.
func LoadConfig(c *cli.Context) (*models.Config, error) {
	cfg, err := models.LoadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}

	if c.IsSet("output-dir") {
		cfg.OutputDir = c.String("output-dir")
	}
	if c.IsSet("workers") {
		cfg.Workers = c.Int("workers")
	}
	if c.IsSet("delay") {
		cfg.Delay = c.Float64("delay")
	}
	if c.IsSet("jitter") {
		cfg.Jitter = c.Float64("jitter")
	}
	if c.IsSet("user-agent") {
		cfg.UserAgent = c.String("user-agent")
	}
	if c.IsSet("cache-dir") {
		cfg.CacheDir = c.String("cache-dir")
	}
	if c.IsSet("redis-url") {
		cfg.RedisURL = c.String("redis-url")
	}
	if c.IsSet("db") {
		cfg.DBPath = c.String("db")
	}
	if c.IsSet("site-origin") {
		cfg.SiteOrigin = c.String("site-origin")
	}
	if c.Bool("require-multi-page") {
		cfg.RequireMultiPage = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Env is everything an action needs to run a harvester operation.
type Env struct {
	Ctx       context.Context
	Logger    *slog.Logger
	Config    *models.Config
	Harvester *harvester.Harvester
	Progress  *Progress
	closers   []func()
}

// NewEnv loads the configuration, connects the optional stores and builds
// the harvester. Ctx is cancelled on SIGINT or SIGTERM, which stops the
// running batch before its next unit. Call Close when done.
func NewEnv(c *cli.Context) (*Env, error) {
	logger := Logger(c)
	cfg, err := LoadConfig(c)
	if err != nil {
		return nil, err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	env := &Env{
		Ctx:      ctx,
		Logger:   logger,
		Config:   cfg,
		Progress: NewProgress(os.Stderr, c.Bool("quiet")),
		closers:  []func(){stop},
	}

	opts := harvester.Options{OnProgress: env.Progress.Update}

	if cfg.RedisURL != "" {
		client, err := dedup.Connect(ctx, cfg.RedisURL)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.closers = append(env.closers, func() { _ = client.Close() })
		opts.Redis = client
		logger.Info("Duplicate filter shared through redis")
	}

	if history, err := db.Open(cfg.DBPath); err != nil {
		logger.Warn("Run history disabled", "error", err)
	} else {
		env.closers = append(env.closers, func() { _ = history.Close() })
		opts.History = history
	}

	h, err := harvester.New(cfg, logger, opts)
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("failed to initialize harvester: %w", err)
	}
	env.Harvester = h
	return env, nil
}

// Close releases the stores in reverse order of opening.
func (e *Env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

// URLs collects --url values and the comma separated --urls list, then
// sanitizes them. Invalid entries are reported as one ValidationError.
func URLs(c *cli.Context) ([]string, error) {
	var raw []string
	raw = append(raw, c.StringSlice("url")...)
	if list := c.String("urls"); list != "" {
		raw = append(raw, strings.Split(list, ",")...)
	}
	raw = append(raw, c.Args().Slice()...)
	if len(raw) == 0 {
		return nil, fmt.Errorf("no URLs provided via --url or --urls")
	}

	urls, invalid := common.SanitizeAndValidateURLs(raw)
	if len(invalid) > 0 {
		return nil, &models.ValidationError{Field: "url", Value: strings.Join(invalid, ", "), Reason: "not an http(s) URL"}
	}
	return common.Dedupe(urls), nil
}
