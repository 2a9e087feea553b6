package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

const usage = `flowlab executes and grades flowcharts.

Usage:
  flowlab <command> [flags] [args]

Commands:
  run       execute a flowchart file and print its output
  grade     grade a flowchart against a testcase fixture or a stored lab
  validate  check a flowchart (and optionally testcases) without running it
  serve     serve the MCP tools over stdio
  init      write ~/.flowlab/settings.json
  version   print the version

Run "flowlab <command> -h" for the flags of a command.
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return exitError
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "version", "-version", "--version":
		printVersion(stdout)
		return exitOK
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return exitOK
	case "init":
		return cmdInit(rest, stdout, stderr)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fail(stderr, "config: %v", err)
	}

	switch cmd {
	case "run":
		return cmdRun(ctx, cfg, rest, stdout, stderr)
	case "grade":
		return cmdGrade(ctx, cfg, rest, stdout, stderr)
	case "validate":
		return cmdValidate(ctx, cfg, rest, stdout, stderr)
	case "serve":
		return cmdServe(ctx, cfg, rest, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return exitError
	}
}
