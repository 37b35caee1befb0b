package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"rollcall/internal/config"
	"rollcall/internal/logger"
)

func main() {
	if err := run(os.Args); err != nil {
		if errors.Is(err, errHelp) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run loads configuration with precedence (env > file > defaults), sets up
// logging and hands the remaining arguments to the command line.
func run(args []string) error {
	global := flag.NewFlagSet(args[0], flag.ContinueOnError)
	configPath := global.String("config", os.Getenv("ROLLCALL_CONFIG_FILE"), "Path to a JSON, YAML or TOML config file")
	if err := global.Parse(args[1:]); err != nil {
		return errHelp
	}

	cfg, err := config.LoadConfigWithPrecedence(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logger.Init(cfg.Log)
	if err != nil {
		return err
	}

	cli := &commandLine{cfg: cfg, logger: log, out: os.Stdout}
	return cli.run(append([]string{args[0]}, global.Args()...))
}
