// Command pdfapi-admin manages users outside the HTTP API.
//
//	pdfapi-admin create-user [--config config.yaml] [--key KEY]
//	pdfapi-admin migrate     [--config config.yaml]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"

	"pdfapi/internal/credentials"
	u "pdfapi/internal/utils"
)

const commandTimeout = 30 * time.Second

var errUsage = errors.New("usage: pdfapi-admin <create-user|migrate> [--config path] [--key key]")

type adminFlags struct {
	command string
	config  string
	key     string
}

func parseFlags(args []string) (adminFlags, error) {
	var f adminFlags
	if len(args) < 2 {
		return f, errUsage
	}
	f.command = args[1]
	switch f.command {
	case "create-user", "migrate":
	default:
		return f, fmt.Errorf("unknown command %q: %w", f.command, errUsage)
	}

	fs := flag.NewFlagSet(f.command, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVarP(&f.config, "config", "c", os.Getenv("CONFIG_PATH"), "path to config.yaml")
	if f.command == "create-user" {
		fs.StringVarP(&f.key, "key", "k", "", "API key to assign (default: random UUID)")
	}
	if err := fs.Parse(args[2:]); err != nil {
		return f, err
	}
	if f.config == "" {
		f.config = "config.yaml"
	}
	if f.command == "create-user" && f.key == "" {
		f.key = uuid.NewString()
	}
	return f, nil
}

func main() {
	flags, err := parseFlags(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := run(flags, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(flags adminFlags, out io.Writer) error {
	cfg := u.LoadFrom(flags.config)
	u.SetLogLevel(cfg.Logger.Level)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	db, err := u.OpenPostgres(ctx, cfg.Auth.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer db.Close()

	if err := credentials.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if flags.command == "migrate" {
		fmt.Fprintln(out, "migrations applied")
		return nil
	}

	cred, err := credentials.NewPostgresStore(db).Create(ctx, flags.key)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	fmt.Fprintf(out, "user %d\napi key %s\n", cred.ID, cred.APIKey)
	return nil
}
