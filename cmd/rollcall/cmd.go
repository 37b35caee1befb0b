package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"rollcall/internal/app"
	"rollcall/internal/config"
	"rollcall/internal/database"
	pkgdatabase "rollcall/pkg/database"
	"rollcall/pkg/types"
)

const shutdownTimeout = 30 * time.Second

var (
	serveFunc = serve // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  serve - run the presence server (default)")
	fmt.Fprintln(cli.out, "  migrate up|down [-steps N]|status - manage the database schema")
	fmt.Fprintln(cli.out, "  account add -id ID -role ROLE -name NAME [-inactive] - add or update a directory account")
	fmt.Fprintln(cli.out, "  account list [-role ROLE] - list directory accounts")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		return serveFunc(cli.cfg, cli.logger)
	}

	switch args[1] {
	case "serve":
		return serveFunc(cli.cfg, cli.logger)
	case "migrate":
		return cli.migrate(args[2:])
	case "account":
		return cli.account(args[2:])
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) migrate(args []string) error {
	if len(args) == 0 {
		cli.printUsage()
		return errHelp
	}

	downCmd := flag.NewFlagSet("down", flag.ContinueOnError)
	downCmd.SetOutput(cli.out)
	downSteps := downCmd.Int("steps", 1, "Number of migrations to roll back")

	db, err := pkgdatabase.Open(cli.cfg.DatabaseConfig())
	if err != nil {
		return err
	}
	defer db.Close()
	migrations := pkgdatabase.NewMigrationManager(db)

	switch args[0] {
	case "up":
		n, err := migrations.ApplyMigrations()
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "applied %d migration(s)\n", n)
	case "down":
		if err := downCmd.Parse(args[1:]); err != nil {
			return errHelp
		}
		if *downSteps < 1 {
			return fmt.Errorf("steps must be at least 1 (got %d)", *downSteps)
		}
		n, err := migrations.Rollback(*downSteps)
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "rolled back %d migration(s)\n", n)
	case "status":
		applied, err := migrations.Applied()
		if err != nil {
			return err
		}
		pending, err := migrations.Pending()
		if err != nil {
			return err
		}
		for _, id := range applied {
			fmt.Fprintf(cli.out, "applied  %s\n", id)
		}
		fmt.Fprintf(cli.out, "%d pending\n", pending)
		if pending == 0 {
			if err := pkgdatabase.NewSchemaValidator(db).Validate(); err != nil {
				return err
			}
			fmt.Fprintln(cli.out, "schema ok")
		}
	default:
		return fmt.Errorf("%q: no such migrate command", args[0])
	}
	return nil
}

func (cli *commandLine) account(args []string) error {
	if len(args) == 0 {
		cli.printUsage()
		return errHelp
	}

	addCmd := flag.NewFlagSet("add", flag.ContinueOnError)
	addCmd.SetOutput(cli.out)
	addID := addCmd.String("id", "", "The account's user ID, as issued in token subjects")
	addRole := addCmd.String("role", types.RoleStudent, "student, faculty or admin")
	addName := addCmd.String("name", "", "Display name shown to other session members")
	addInactive := addCmd.Bool("inactive", false, "Store the account as inactive so its tokens are refused")

	listCmd := flag.NewFlagSet("list", flag.ContinueOnError)
	listCmd.SetOutput(cli.out)
	listRole := listCmd.String("role", "", "Only list accounts with this role")

	switch args[0] {
	case "add":
		if err := addCmd.Parse(args[1:]); err != nil {
			return errHelp
		}
		if *addID == "" || *addName == "" {
			addCmd.Usage()
			return errHelp
		}
		account := &types.Account{ID: *addID, Role: *addRole, DisplayName: *addName, Active: !*addInactive}
		if err := account.Validate(); err != nil {
			return err
		}
		return cli.withStore(func(ctx context.Context, store *database.Manager) error {
			if err := store.UpsertAccount(ctx, account); err != nil {
				return err
			}
			fmt.Fprintf(cli.out, "stored account %s (%s)\n", account.ID, account.Role)
			return nil
		})
	case "list":
		if err := listCmd.Parse(args[1:]); err != nil {
			return errHelp
		}
		if *listRole != "" && !types.IsValidRole(*listRole) {
			return types.ErrInvalidRole
		}
		return cli.withStore(func(ctx context.Context, store *database.Manager) error {
			accounts, err := store.ListAccounts(ctx, *listRole)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tROLE\tNAME\tACTIVE")
			for _, a := range accounts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", a.ID, a.Role, a.DisplayName, a.Active)
			}
			return w.Flush()
		})
	default:
		return fmt.Errorf("%q: no such account command", args[0])
	}
}

func (cli *commandLine) withStore(fn func(context.Context, *database.Manager) error) error {
	store, err := database.NewManager(cli.cfg.DatabaseConfig(), cli.logger)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), cli.cfg.Database.Timeout)
	defer cancel()
	if err := fn(ctx, store); err != nil {
		_ = store.Close()
		return err
	}
	return store.Close()
}

// serve runs the application until SIGINT or SIGTERM, then shuts down
// gracefully within shutdownTimeout.
func serve(cfg *config.Config, logger *slog.Logger) error {
	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = application.Stop(shutdownCtx)
		return fmt.Errorf("application error: %w", err)
	}

	<-ctx.Done()
	logger.Info("received signal, shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
