package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/phrazzld/leitbox/internal/config"
	"github.com/phrazzld/leitbox/internal/platform/logger"
	"github.com/phrazzld/leitbox/internal/platform/sqlstore"
	"github.com/spf13/pflag"
)

// errHelp is returned by parseFlags when --help was requested and the
// usage has already been printed.
var errHelp = errors.New("help requested")

// command holds the flags every command shares.
type command struct {
	flags      *pflag.FlagSet
	configPath string
}

func newCommand(name, summary string, out io.Writer) *command {
	c := &command{flags: pflag.NewFlagSet(name, pflag.ContinueOnError)}
	c.flags.SetOutput(out)
	c.flags.StringVarP(&c.configPath, "config", "c", "", "path to a config file (default ./config.yaml when present)")
	c.flags.Usage = func() {
		fmt.Fprintf(out, "Usage: leitbox %s\n\n%s\n\nFlags:\n", name, summary)
		c.flags.PrintDefaults()
	}
	return c
}

func (c *command) parse(args []string) error {
	if err := c.flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return errHelp
		}
		return err
	}
	return nil
}

func (c *command) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(c.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// load reads the configuration and sends logs to w.
func (c *command) load(w io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.SetupWithWriter(cfg.Server, w), nil
}

// openDatabase connects and brings the schema up to date.
func openDatabase(ctx context.Context, cfg *config.Config, log *slog.Logger) (*sql.DB, sqlstore.Dialect, error) {
	db, dialect, err := sqlstore.Open(ctx, cfg.Database, log)
	if err != nil {
		return nil, "", err
	}
	if err := sqlstore.Migrate(ctx, db, dialect, log); err != nil {
		_ = db.Close()
		return nil, "", err
	}
	return db, dialect, nil
}

// quiet maps errHelp to success so that --help exits zero.
func quiet(err error) error {
	if errors.Is(err, errHelp) {
		return nil
	}
	return err
}

var stderr io.Writer = os.Stderr
