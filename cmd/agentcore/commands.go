package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/martinemde/agentcore/agentloop"
	"github.com/martinemde/agentcore/config"
	"github.com/martinemde/agentcore/logging"
	"github.com/martinemde/agentcore/server"
)

const usage = `agentcore runs an LLM agent loop with tools.

Usage:
  agentcore run [--config <path>] [--max-iterations <n>] <prompt>
  agentcore serve [--config <path>] [--addr <address>]

Commands:
  run      Execute one prompt and print the final answer
  serve    Start the HTTP session API

Flags:
  -h, --help  Show this help message`

const runUsage = `Usage:
  agentcore run [--config <path>] [--max-iterations <n>] <prompt>

Flags:
  --config          string  Path to a YAML config file (default: layered user and project files)
  --max-iterations  int     Override orchestrator.max_iterations`

const serveUsage = `Usage:
  agentcore serve [--config <path>] [--addr <address>]

Flags:
  --config  string  Path to a YAML config file (default: layered user and project files)
  --addr    string  Override server.address`

// Execute runs the CLI dispatcher with the provided arguments.
func Execute(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return printUsage(stdout)
	}

	switch args[0] {
	case "run":
		return runCommand(ctx, args[1:], stdout)
	case "serve":
		return serveCommand(ctx, args[1:])
	case "help", "-h", "--help":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command %q\n\n%s", args[0], usage)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, strings.TrimSpace(usage))
	return nil
}

func runCommand(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprintln(os.Stderr, runUsage) }

	var (
		cfgPath       string
		maxIterations int
	)
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.IntVar(&maxIterations, "max-iterations", 0, "override orchestrator.max_iterations")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse run flags: %w", err)
	}

	prompt := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if prompt == "" {
		return errors.New("run requires a prompt")
	}
	if maxIterations < 0 {
		return fmt.Errorf("--max-iterations must not be negative, got %d", maxIterations)
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	if maxIterations > 0 {
		cfg.Orchestrator.MaxIterations = maxIterations
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	session, err := a.newSession(ctx, uuid.NewString())
	if err != nil {
		return err
	}
	result, err := session.Execute(ctx, prompt)
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, result.Text)
	switch result.Outcome {
	case agentloop.OutcomeCancelled:
		return context.Canceled
	case agentloop.OutcomeMaxIterations:
		a.logger.Warn("stopped at iteration limit", "iterations", result.Iterations)
	}
	return nil
}

func serveCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprintln(os.Stderr, serveUsage) }

	var cfgPath, addr string
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.StringVar(&addr, "addr", "", "override server address")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse serve flags: %w", err)
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Address = addr
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := server.New(cfg.Server.Address, a.newSession, logging.Named("server"))
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := logging.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	return cfg, nil
}
