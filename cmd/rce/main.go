package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lattice-db/rce/internal/config"
	"github.com/lattice-db/rce/internal/engine"
)

var (
	flagConfig   string
	flagLogLevel string
	flagDebug    bool
)

func init() {
	flag.StringVar(&flagConfig, "config", "", "Optional config file overriding log level / debug")
	flag.StringVar(&flagLogLevel, "log-level", "", "Override log level (trace|debug|info|warn|error)")
	flag.BoolVar(&flagDebug, "debug", false, "Emit debug-annotated stdout lines alongside the protocol output")
}

func main() {
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: rce [options] <command-file>")
		flag.PrintDefaults()
		os.Exit(1)
	}

	opts, err := config.Load(flagConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if flagLogLevel != "" {
		opts.LogLevel = flagLogLevel
	}
	if flagDebug {
		opts.Debug = true
	}

	level, err := zerolog.ParseLevel(opts.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Logger.Output(os.Stderr)

	path := flag.Arg(0)
	if opts.InputFile != "" {
		path = opts.InputFile
	}
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening %s: %v\n", path, err)
		os.Exit(1)
	}
	defer f.Close()

	mgr := engine.New(os.Stdout, engine.Options{Debug: opts.Debug})
	if err := engine.Run(mgr, f); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
