package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/config"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/db"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/fsutil"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/security"
)

type exportOptions struct {
	configPath string
	dbPath     string
	out        string
	force      bool
}

func parseExportFlags(args []string) (*exportOptions, error) {
	opts := &exportOptions{}
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "Service config JSON file (defaults are built in)")
	fs.StringVar(&opts.dbPath, "db", "", "Journal database path (overrides config)")
	fs.StringVar(&opts.out, "out", "", "Output parameter set file (default <journal>-parameters.json)")
	fs.BoolVar(&opts.force, "force", false, "Overwrite an existing output file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

// runExport writes the last applied value of every parameter in the journal
// as a parameter set that send --file accepts.
func runExport(ctx context.Context, opts *exportOptions, out io.Writer, fsys fsutil.FileSystem) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	dbPath := cfg.GetDBPath()
	if opts.dbPath != "" {
		dbPath = opts.dbPath
	}
	// OpenDB would create an empty file
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("journal %s: %w", dbPath, err)
	}

	target := opts.out
	if target == "" {
		base := strings.TrimSuffix(filepath.Base(dbPath), filepath.Ext(dbPath))
		target = security.SanitizeFilename(base) + "-parameters.json"
	}
	if err := security.ValidateExportPath(target); err != nil {
		return err
	}
	if fsys.Exists(target) && !opts.force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", target)
	}

	database, err := db.OpenDB(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	latest, err := database.LatestParameters(ctx)
	if err != nil {
		return err
	}
	set := config.ParameterSetFromValues(latest)
	if len(set.Parameters) == 0 {
		return errors.New("journal has no applied parameters")
	}
	if err := set.Save(fsys, target); err != nil {
		return err
	}
	fmt.Fprintf(out, "Exported %d parameters to %s\n", len(set.Parameters), target)
	return nil
}
