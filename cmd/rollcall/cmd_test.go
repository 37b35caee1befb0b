package main

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"rollcall/internal/config"
)

func setup(t *testing.T) (*commandLine, *bytes.Buffer) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "rollcall.db")
	cfg.Auth.JWTSecret = "cli-test-secret"

	out := &bytes.Buffer{}
	return &commandLine{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		out:    out,
	}, out
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	wantOut    string
}

func runCLITests(t *testing.T, cli *commandLine, out *bytes.Buffer, tests []cliTest) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out.Reset()
			err := cli.run(append([]string{"rollcall"}, tt.args...))
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("run() error = %v, want %v", err, tt.wantErr)
				}
			case tt.wantErrStr != "":
				if err == nil || err.Error() != tt.wantErrStr {
					t.Fatalf("run() error = %v, want %q", err, tt.wantErrStr)
				}
			case err != nil:
				t.Fatalf("run() unexpected error: %v", err)
			}
			if tt.wantOut != "" && !strings.Contains(out.String(), tt.wantOut) {
				t.Errorf("output %q does not contain %q", out.String(), tt.wantOut)
			}
		})
	}
}

func Test_commandLine_serve(t *testing.T) {
	cli, out := setup(t)

	served := 0
	serveFunc = func(cfg *config.Config, _ *slog.Logger) error {
		if cfg != cli.cfg {
			t.Error("serve received a different config")
		}
		served++
		return nil
	}
	defer func() { serveFunc = serve }()

	runCLITests(t, cli, out, []cliTest{
		{name: "no command serves", args: nil},
		{name: "serve", args: []string{"serve"}},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp, wantOut: "Usage:"},
	})
	if served != 2 {
		t.Errorf("serve called %d times, want 2", served)
	}
}

// FUNCTIONAL VALIDATION TEST: Schema can be applied, inspected and rolled back from the CLI
func Test_commandLine_migrate(t *testing.T) {
	cli, out := setup(t)

	runCLITests(t, cli, out, []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such migrate command"},
		{name: "status before up", args: []string{"migrate", "status"}, wantOut: "1 pending"},
		{name: "up", args: []string{"migrate", "up"}, wantOut: "applied 1 migration(s)"},
		{name: "up again", args: []string{"migrate", "up"}, wantOut: "applied 0 migration(s)"},
		{name: "status after up", args: []string{"migrate", "status"}, wantOut: "applied  001_initial_schema.sql"},
		{name: "status checks schema", args: []string{"migrate", "status"}, wantOut: "schema ok"},
		{name: "down: bad steps", args: []string{"migrate", "down", "-steps", "0"}, wantErrStr: "steps must be at least 1 (got 0)"},
		{name: "down: non-int steps", args: []string{"migrate", "down", "-steps", "lol"}, wantErr: errHelp},
		{name: "down", args: []string{"migrate", "down"}, wantOut: "rolled back 1 migration(s)"},
	})
}

func Test_commandLine_account(t *testing.T) {
	cli, out := setup(t)

	runCLITests(t, cli, out, []cliTest{
		{name: "no subcommand", args: []string{"account"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"account", "lol"}, wantErrStr: "\"lol\": no such account command"},
		{name: "add: missing id", args: []string{"account", "add", "-name", "Ama"}, wantErr: errHelp},
		{name: "add: missing name", args: []string{"account", "add", "-id", "stu1"}, wantErr: errHelp},
		{name: "add: bad role", args: []string{"account", "add", "-id", "stu1", "-name", "Ama", "-role", "dean"}, wantErrStr: "role must be student, faculty or admin"},
		{name: "add: bad id", args: []string{"account", "add", "-id", "no spaces", "-name", "Ama"}, wantErrStr: "user ID must be 1-64 characters, alphanumeric + underscore/hyphen only"},
		{name: "add student", args: []string{"account", "add", "-id", "stu1", "-name", "Ama"}, wantOut: "stored account stu1 (student)"},
		{name: "add faculty", args: []string{"account", "add", "-id", "fac1", "-name", "Dr. Okafor", "-role", "faculty"}, wantOut: "stored account fac1 (faculty)"},
		{name: "add inactive", args: []string{"account", "add", "-id", "stu2", "-name", "Kofi", "-inactive"}, wantOut: "stored account stu2 (student)"},
		{name: "list all", args: []string{"account", "list"}, wantOut: "Dr. Okafor"},
		{name: "list: bad role", args: []string{"account", "list", "-role", "dean"}, wantErrStr: "role must be student, faculty or admin"},
	})

	out.Reset()
	if err := cli.run([]string{"rollcall", "account", "list", "-role", "student"}); err != nil {
		t.Fatalf("list students failed: %v", err)
	}
	listing := out.String()
	if strings.Contains(listing, "fac1") {
		t.Error("role filter should exclude faculty")
	}
	if !strings.Contains(listing, "stu2") || !strings.Contains(listing, "false") {
		t.Errorf("inactive student missing from listing:\n%s", listing)
	}
}
