// Command csvtable imports a CSV file into a mergeable document and reports
// the size of the encoded result.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/maruel/csvtable/internal/config"
	"github.com/maruel/csvtable/internal/table"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "csvtable: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	configPath := flag.String("config", "", "YAML configuration file")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	codec := flag.String("codec", "zstd", "Codec used for the size report (zstd, lz4, s2, none)")
	validation := flag.String("validation", "batch", "Id uniqueness scope (batch, document)")
	seed := flag.Uint64("seed", 0, "Seed of the id generators; 0 is random")
	preview := flag.Int("preview", 10, "Number of rows to print")
	storeDir := flag.String("store", "", "Directory of the persisted update log")
	compact := flag.Bool("compact", false, "Compact the update log after the import")
	watch := flag.Bool("watch", false, "Import the file again every time it changes")
	dump := flag.Bool("dump", false, "Dump the document tree")
	configSchema := flag.Bool("config-schema", false, "Print the JSON Schema of the configuration file and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: csvtable [flags] <file.csv>\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *version {
		printVersion()
		return nil
	}
	if *configSchema {
		b, err := config.Schema()
		if err != nil {
			return err
		}
		_, err = fmt.Printf("%s\n", b)
		return err
	}
	if flag.NArg() != 1 {
		flag.Usage()
		return errors.New("expected exactly one CSV file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	if err := ll.UnmarshalText([]byte(*logLevel)); err != nil {
		return fmt.Errorf("invalid -log-level: %w", err)
	}
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			val := a.Value.Any()
			skip := false
			switch t := val.(type) {
			case string:
				skip = t == ""
			case bool:
				skip = !t
			case uint64:
				skip = t == 0
			case int64:
				skip = t == 0
			case time.Duration:
				skip = t == 0
			case nil:
				skip = true
			}
			if skip {
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	// Flags only override the configuration file when explicitly set.
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	if set["codec"] {
		cfg.Codec = *codec
	}
	if set["validation"] {
		cfg.Validation = table.ValidationMode(*validation)
	}
	if set["seed"] {
		cfg.Seed = *seed
	}
	if set["preview"] {
		cfg.PreviewRows = *preview
	}
	if set["store"] {
		cfg.StoreDir = *storeDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	r := &runner{
		cfg:     cfg,
		path:    flag.Arg(0),
		w:       os.Stdout,
		compact: *compact,
		dump:    *dump,
	}
	if err := r.init(ctx); err != nil {
		return err
	}
	if err := r.run(ctx); err != nil {
		return err
	}
	if *watch {
		return r.watch(ctx)
	}
	return nil
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("csvtable %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}
