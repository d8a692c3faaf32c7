// Package main implements the leitbox binary: the HTTP API server for
// Leitner box spaced repetition plus the maintenance commands that run
// against the same configuration.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

const usage = `Usage: leitbox <command> [flags]

Commands:
  serve     run the HTTP API server (default)
  migrate   apply or inspect database migrations: up, down, version
  export    export a box and print its download link
  import    import an archive file as a new box
  token     issue an access token for a user

Run "leitbox <command> --help" for the flags of a command.
`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "leitbox: %v\n", err)
		os.Exit(1)
	}
}

// run dispatches args to a command. Command results are written to stdout;
// logs go to stdout for serve and to stderr for everything else.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	name := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		name, args = args[0], args[1:]
	}

	switch name {
	case "serve":
		return runServe(ctx, args)
	case "migrate":
		return runMigrate(ctx, args, stdout)
	case "export":
		return runExport(ctx, args, stdout)
	case "import":
		return runImport(ctx, args, stdout)
	case "token":
		return runToken(ctx, args, stdout)
	case "help":
		_, err := io.WriteString(stdout, usage)
		return err
	default:
		return fmt.Errorf("unknown command %q\n\n%s", name, usage)
	}
}
