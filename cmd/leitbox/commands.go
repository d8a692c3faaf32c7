package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/leitbox/internal/platform/sqlstore"
	"github.com/phrazzld/leitbox/internal/redact"
	"github.com/phrazzld/leitbox/internal/service/auth"
)

// runMigrate applies, rolls back or reports the schema version.
func runMigrate(ctx context.Context, args []string, stdout io.Writer) error {
	cmd := newCommand("migrate [up|down|version] [flags]", "Apply or inspect database migrations.", stdout)
	if err := cmd.parse(args); err != nil {
		return quiet(err)
	}
	action := "up"
	switch cmd.flags.NArg() {
	case 0:
	case 1:
		action = cmd.flags.Arg(0)
	default:
		return errors.New("migrate takes at most one action")
	}

	cfg, log, err := cmd.load(stderr)
	if err != nil {
		return err
	}
	db, dialect, err := sqlstore.Open(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	switch action {
	case "up":
		if err := sqlstore.Migrate(ctx, db, dialect, log); err != nil {
			return err
		}
	case "down":
		if err := sqlstore.MigrateDown(ctx, db, dialect); err != nil {
			return err
		}
		log.Info("rolled back latest migration")
	case "version":
	default:
		return fmt.Errorf("unknown migrate action %q", action)
	}

	version, err := sqlstore.MigrationVersion(ctx, db, dialect)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	_, err = fmt.Fprintf(stdout, "%d\n", version)
	return err
}

// runExport exports a box synchronously and prints the result.
func runExport(ctx context.Context, args []string, stdout io.Writer) error {
	cmd := newCommand("export --user ID --box ID [flags]", "Export a box and print its download link.", stdout)
	user := cmd.flags.String("user", "", "ID of the user who owns the box")
	box := cmd.flags.String("box", "", "ID of the box to export")
	if err := cmd.parse(args); err != nil {
		return quiet(err)
	}
	userID, err := parseIDFlag("user", *user)
	if err != nil {
		return err
	}
	boxID, err := parseIDFlag("box", *box)
	if err != nil {
		return err
	}

	return withApplication(ctx, cmd, func(app *application) error {
		result, err := app.transferService.Export(ctx, userID, boxID)
		if err != nil {
			return err
		}
		return writeJSON(stdout, result)
	})
}

// runImport imports an archive file as a new box and prints its ID.
func runImport(ctx context.Context, args []string, stdout io.Writer) error {
	cmd := newCommand("import --user ID --name NAME FILE [flags]", "Import an archive file as a new box.", stdout)
	user := cmd.flags.String("user", "", "ID of the user who will own the box")
	name := cmd.flags.String("name", "", "name of the new box")
	if err := cmd.parse(args); err != nil {
		return quiet(err)
	}
	userID, err := parseIDFlag("user", *user)
	if err != nil {
		return err
	}
	if cmd.flags.NArg() != 1 {
		return errors.New("import needs exactly one archive file")
	}

	f, err := os.Open(cmd.flags.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	return withApplication(ctx, cmd, func(app *application) error {
		boxID, err := app.transferService.Import(ctx, f, *name, userID)
		if err != nil {
			return err
		}
		return writeJSON(stdout, map[string]string{"box_id": boxID.String()})
	})
}

type tokenOutput struct {
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// runToken issues an access token. Without --user a new user ID is minted.
func runToken(ctx context.Context, args []string, stdout io.Writer) error {
	cmd := newCommand("token [--user ID] [flags]", "Issue an access token for a user.", stdout)
	user := cmd.flags.String("user", "", "ID of the user (default a new random ID)")
	if err := cmd.parse(args); err != nil {
		return quiet(err)
	}

	userID := uuid.New()
	if *user != "" {
		id, err := parseIDFlag("user", *user)
		if err != nil {
			return err
		}
		userID = id
	}

	cfg, log, err := cmd.load(stderr)
	if err != nil {
		return err
	}
	jwtService, err := auth.NewJWTService(cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to initialize JWT service: %w", err)
	}
	token, err := jwtService.GenerateToken(ctx, userID)
	if err != nil {
		return err
	}
	claims, err := jwtService.ValidateToken(ctx, token)
	if err != nil {
		return err
	}
	log.Debug("issued access token", slog.String("user_id", userID.String()))

	return writeJSON(stdout, tokenOutput{UserID: userID, Token: token, ExpiresAt: claims.ExpiresAt})
}

// withApplication builds the full application for a one-off command and
// tears it down afterwards. Failures are logged with credentials redacted.
func withApplication(ctx context.Context, cmd *command, fn func(app *application) error) error {
	cfg, log, err := cmd.load(stderr)
	if err != nil {
		return err
	}
	db, dialect, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	app, err := newApplication(ctx, cfg, log, db, dialect)
	if err != nil {
		_ = db.Close()
		return err
	}
	defer app.cleanup()

	if err := fn(app); err != nil {
		log.Error("command failed", slog.String("error", redact.Error(err)))
		return err
	}
	return nil
}

func parseIDFlag(name, value string) (uuid.UUID, error) {
	if value == "" {
		return uuid.Nil, fmt.Errorf("--%s is required", name)
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("--%s: %w", name, err)
	}
	return id, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
