package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/japaniel/shortwords/internal/logger"
	"github.com/japaniel/shortwords/pkg/config"
	"github.com/japaniel/shortwords/pkg/db"
	"github.com/japaniel/shortwords/pkg/ingest"
	"github.com/japaniel/shortwords/pkg/server"
	"github.com/japaniel/shortwords/pkg/upstream"
	"github.com/urfave/cli/v2"
)

const (
	cfgKey    = "config"
	loggerKey = "logger"
)

func main() {
	// Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Error("shortwords failed", "err", err)
		cancel()
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "shortwords",
		Usage: "Rank short title words by how often their questions get answered",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to TOML config file",
				Value:   "shortwords.toml",
				EnvVars: []string{"SHORTWORDS_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "db",
				Usage:   "Path to SQLite database",
				EnvVars: []string{"SHORTWORDS_DB"},
			},
			&cli.StringFlag{
				Name:    "db-driver",
				Usage:   "SQLite driver: sqlite3 (cgo) or sqlite (pure Go)",
				EnvVars: []string{"SHORTWORDS_DB_DRIVER"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				EnvVars: []string{"SHORTWORDS_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log output format (text, json, logfmt)",
				EnvVars: []string{"SHORTWORDS_LOG_FORMAT"},
			},
		},
		Before: setup,
		Action: serveCommand,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: serveCommand,
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:    "addr",
						Usage:   "Listen address",
						EnvVars: []string{"SHORTWORDS_ADDR", "PORT"},
					},
				}, pipelineFlags()...),
			},
			{
				Name:   "load",
				Usage:  "Fetch questions once and store them",
				Action: loadCommand,
				Flags: append([]cli.Flag{
					&cli.Int64Flag{Name: "from", Usage: "Start of the creation date range (unix seconds)", Required: true},
					&cli.Int64Flag{Name: "to", Usage: "End of the creation date range (unix seconds)", Required: true},
					&cli.StringFlag{Name: "tags", Usage: "Semicolon separated tag filter"},
				}, pipelineFlags()...),
			},
			{
				Name:   "stats",
				Usage:  "Print the top ranked words as JSON",
				Action: statsCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "k", Usage: "Number of words", Value: 10},
				},
			},
			{
				Name:   "init-config",
				Usage:  "Write the effective configuration to a TOML file",
				Action: initConfigCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Destination file (defaults to --config)"},
					&cli.BoolFlag{Name: "force", Usage: "Overwrite an existing file"},
				},
			},
			{
				Name:   "init-db",
				Usage:  "Create the database schema and exit",
				Action: initDBCommand,
			},
		},
	}
}

func pipelineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "workers",
			Usage:   "Concurrent question transactions during ingestion",
			EnvVars: []string{"SHORTWORDS_WORKERS"},
		},
		&cli.StringFlag{
			Name:    "upstream-url",
			Usage:   "Base URL of the Stack Exchange API",
			EnvVars: []string{"SHORTWORDS_UPSTREAM_URL"},
		},
		&cli.StringFlag{
			Name:    "site",
			Usage:   "Stack Exchange site to query",
			EnvVars: []string{"SHORTWORDS_SITE"},
		},
		&cli.StringFlag{
			Name:    "key",
			Usage:   "Stack Exchange app key (raises the request quota)",
			EnvVars: []string{"SHORTWORDS_KEY"},
		},
	}
}

// setup resolves config (defaults, file, .env, flags) and builds the logger.
func setup(c *cli.Context) error {
	if err := config.LoadEnv(); err != nil {
		return cli.Exit(fmt.Sprintf("load .env: %v", err), 1)
	}
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if c.IsSet("db") {
		cfg.DB.Path = c.String("db")
	}
	if c.IsSet("db-driver") {
		cfg.DB.Driver = c.String("db-driver")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = c.String("log-format")
	}
	if err := cfg.Validate(); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	l, err := logger.Parse("shortwords", cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	c.App.Metadata = map[string]interface{}{cfgKey: cfg, loggerKey: l}
	return nil
}

func appConfig(c *cli.Context) (*config.Config, *log.Logger) {
	return c.App.Metadata[cfgKey].(*config.Config), c.App.Metadata[loggerKey].(*log.Logger)
}

// applyPipelineFlags copies command-level overrides into cfg.
func applyPipelineFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("workers") {
		cfg.Ingest.Workers = c.Int("workers")
	}
	if c.IsSet("upstream-url") {
		cfg.Upstream.BaseURL = c.String("upstream-url")
	}
	if c.IsSet("site") {
		cfg.Upstream.Site = c.String("site")
	}
	if c.IsSet("key") {
		cfg.Upstream.Key = c.String("key")
	}
}

func openStore(ctx context.Context, cfg *config.Config) (*sql.DB, *db.Store, error) {
	conn, err := db.Open(db.Options{
		Driver:          cfg.DB.Driver,
		Path:            cfg.DB.Path,
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxIdleTime: cfg.DB.ConnMaxIdleTime,
		BusyTimeout:     cfg.DB.BusyTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	store, err := db.NewStore(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, store, nil
}

func newPipeline(cfg *config.Config, store *db.Store, l *log.Logger) (*upstream.Client, *ingest.Ingester) {
	client := upstream.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.Site, cfg.Upstream.Key, cfg.Upstream.Timeout)
	client.Logger = l.WithPrefix("upstream")
	ig := ingest.NewIngester(store)
	ig.Workers = cfg.Ingest.Workers
	ig.Logger = l.WithPrefix("ingest")
	return client, ig
}

func serveCommand(c *cli.Context) error {
	cfg, l := appConfig(c)
	applyPipelineFlags(c, cfg)
	if c.IsSet("addr") {
		cfg.Server.Addr = c.String("addr")
	}

	conn, store, err := openStore(c.Context, cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer conn.Close()
	defer store.Close()
	l.Info("database initialized", "driver", cfg.DB.Driver, "path", cfg.DB.Path)

	client, ig := newPipeline(cfg, store, l)
	srv := server.New(store, client, ig, l.WithPrefix("http"))
	srv.CORSOrigins = cfg.Server.CORSOrigins

	if err := srv.ListenAndServe(c.Context, cfg.Server.Addr, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout); err != nil {
		l.Error("server stopped", "err", err)
		return cli.Exit("", 1)
	}
	return nil
}

func loadCommand(c *cli.Context) error {
	cfg, l := appConfig(c)
	applyPipelineFlags(c, cfg)

	conn, store, err := openStore(c.Context, cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer conn.Close()
	defer store.Close()

	client, ig := newPipeline(cfg, store, l)
	ig.OnProgress = func(current, total int) {
		if current%500 == 0 || current == total {
			l.Info("progress", "saved", current, "total", total)
		}
	}

	q := upstream.Query{From: c.Int64("from"), To: c.Int64("to"), Tags: c.String("tags")}
	n, err := ingest.Load(c.Context, client, ig, q)
	if err != nil {
		return cli.Exit(fmt.Sprintf("load failed: %v", err), 1)
	}
	fmt.Fprintln(c.App.Writer, n)
	return nil
}

func statsCommand(c *cli.Context) error {
	cfg, _ := appConfig(c)
	if c.Int("k") < 0 {
		return cli.Exit("k must be non-negative", 1)
	}

	conn, store, err := openStore(c.Context, cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer conn.Close()
	defer store.Close()

	stats, err := store.TopWords(c.Context, c.Int("k"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("stats failed: %v", err), 1)
	}
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

func initConfigCommand(c *cli.Context) error {
	cfg, l := appConfig(c)
	out := c.String("out")
	if out == "" {
		out = c.String("config")
	}
	if _, err := os.Stat(out); err == nil && !c.Bool("force") {
		return cli.Exit(fmt.Sprintf("%s already exists, use --force to overwrite", out), 1)
	}
	if err := config.Save(cfg, out); err != nil {
		return cli.Exit(fmt.Sprintf("write config: %v", err), 1)
	}
	l.Info("config written", "path", out)
	return nil
}

func initDBCommand(c *cli.Context) error {
	cfg, l := appConfig(c)
	conn, store, err := openStore(c.Context, cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer conn.Close()
	defer store.Close()
	l.Info("database initialized", "driver", cfg.DB.Driver, "path", cfg.DB.Path)
	return nil
}
