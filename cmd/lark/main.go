// Lark CLI - inspect, run and store compiled functions
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"

	"github.com/chazu/larkvm/config"
	"github.com/chazu/larkvm/vm"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("larkvm.cli")

func main() {
	configDir := flag.String("config", "", "Directory to search for lark.toml (default: current directory)")
	verbose := flag.Bool("v", false, "Verbose output")
	profile := flag.Bool("profile", false, "Print per-function call counts after run")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: lark [options] <command> [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  dis FILE              Disassemble a compiled function\n")
		fmt.Fprintf(os.Stderr, "  run FILE              Execute a compiled module\n")
		fmt.Fprintf(os.Stderr, "  hash FILE             Print the content hash of a compiled function\n")
		fmt.Fprintf(os.Stderr, "  store put NAME FILE   Add a compiled module to the store\n")
		fmt.Fprintf(os.Stderr, "  store ls              List stored modules\n")
		fmt.Fprintf(os.Stderr, "  store rm NAME         Remove a stored module\n")
		fmt.Fprintf(os.Stderr, "  demo DIR              Write sample modules to DIR\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  lark demo ./out && lark run ./out/main%s\n", ".lfn")
		fmt.Fprintf(os.Stderr, "  lark -config ./project store ls\n")
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configDir)
	if err != nil {
		fatal(err)
	}
	configureLogging(cfg, *verbose)
	if cfg.Path != "" {
		log.Infof("using configuration %s", cfg.Path)
	}

	switch args[0] {
	case "dis":
		requireArgs(args, 2, "lark dis FILE")
		err = handleDisCommand(os.Stdout, args[1])
	case "run":
		requireArgs(args, 2, "lark run FILE")
		err = handleRunCommand(os.Stdout, cfg, args[1], *profile)
	case "hash":
		requireArgs(args, 2, "lark hash FILE")
		err = handleHashCommand(os.Stdout, args[1])
	case "store":
		err = handleStoreCommand(os.Stdout, cfg, args[1:])
	case "demo":
		requireArgs(args, 2, "lark demo DIR")
		err = handleDemoCommand(os.Stdout, args[1])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fatal(err)
	}
}

func loadConfig(dir string) (*config.Config, error) {
	if dir != "" {
		return config.Load(dir)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return config.FindAndLoad(wd)
}

func configureLogging(cfg *config.Config, verbose bool) {
	verbosity := cfg.Log.Verbosity
	if verbose && verbosity < 2 {
		verbosity = 2
	}
	var path *string
	if cfg.Log.File != "" {
		path = &cfg.Log.File
	}
	commonlog.Configure(verbosity, path)
}

func requireArgs(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "Usage: %s\n", usage)
		os.Exit(2)
	}
}

// fatal prints err, with its evaluation backtrace when there is one, and
// exits.
func fatal(err error) {
	fmt.Fprintln(os.Stderr, formatError(err, isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())))
	os.Exit(1)
}

const (
	colorRed   = "\033[31m"
	colorReset = "\033[0m"
)

func formatError(err error, color bool) string {
	msg := "Error: " + err.Error()
	var ee *vm.EvalError
	if errors.As(err, &ee) {
		msg = ee.Backtrace()
	}
	if color {
		return colorRed + msg + colorReset
	}
	return msg
}
