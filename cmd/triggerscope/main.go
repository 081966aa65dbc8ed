package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/config"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/db"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/fsutil"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/version"
)

func main() {
	flag.Usage = func() { printUsage(os.Stderr) }
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flag.Args(), os.Stdout); err != nil {
		log.Printf("triggerscope: %v", err)
		stop()
		os.Exit(1)
	}
}

// run dispatches to a subcommand. An empty argument list starts the service.
func run(ctx context.Context, args []string, out io.Writer) error {
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	switch command {
	case "serve":
		opts, err := parseServeFlags(args)
		if err != nil {
			return err
		}
		return runServe(ctx, opts)
	case "send":
		opts, err := parseSendFlags(args)
		if err != nil {
			return err
		}
		return runSend(ctx, opts, out, openSerialLink)
	case "export":
		opts, err := parseExportFlags(args)
		if err != nil {
			return err
		}
		return runExport(ctx, opts, out, fsutil.OSFileSystem{})
	case "migrate":
		fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
		fs.SetOutput(out)
		configPath := fs.String("config", "", "Service config JSON file")
		dbPath := fs.String("db", "", "Journal database path (overrides config)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		cfg, err := loadConfig(*configPath)
		if err != nil {
			return err
		}
		path := cfg.GetDBPath()
		if *dbPath != "" {
			path = *dbPath
		}
		return db.RunMigrateCommand(fs.Args(), path, out)
	case "version":
		fmt.Fprintf(out, "triggerscope %s (git %s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return nil
	case "help", "-h", "--help":
		printUsage(out)
		return nil
	default:
		printUsage(out)
		return fmt.Errorf("unknown command %q", command)
	}
}

// loadConfig reads path, or returns the built-in defaults when path is empty.
func loadConfig(path string) (*config.ServiceConfig, error) {
	if path == "" {
		return config.DefaultServiceConfig(), nil
	}
	return config.LoadServiceConfig(path)
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `triggerscope - trigger parameter service for the scanning microscope

Usage: triggerscope <command> [options]

Commands:
  serve      Listen on the serial link and serve the HTTP API (default)
  send       Upload a parameter set to the instrument or a running service
  export     Write the journal's latest parameter values as a parameter set
  migrate    Manage the command journal schema (up, down, status, force)
  version    Show version information
  help       Show this help message

Run "triggerscope <command> -h" for the options of a command.
`)
}
