package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/chazu/larkvm/config"
	"github.com/chazu/larkvm/host"
	"github.com/chazu/larkvm/store"
	"github.com/chazu/larkvm/vm"
	"github.com/chazu/larkvm/vm/dist"
)

func readFunction(path string) (*vm.Function, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fn, err := dist.UnmarshalFunction(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return fn, nil
}

// handleDisCommand prints the disassembly of the function in path and the
// modules it loads.
func handleDisCommand(w io.Writer, path string) error {
	fn, err := readFunction(path)
	if err != nil {
		return err
	}
	if m := fn.Module(); m != nil {
		fmt.Fprintf(w, "module %s globals=%v\n", m.Name, m.Names())
	}
	if req := dist.Requires(fn); len(req) > 0 {
		fmt.Fprintf(w, "loads %s\n", strings.Join(req, ", "))
	}
	fmt.Fprint(w, fn.Disassemble())
	return nil
}

func handleHashCommand(w io.Writer, path string) error {
	fn, err := readFunction(path)
	if err != nil {
		return err
	}
	h, err := dist.Hash(fn)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%x  %s\n", h, path)
	return nil
}

// moduleSource resolves loads from the running file's directory, then the
// configured module paths, then the store. The returned close function
// releases the store.
func moduleSource(cfg *config.Config, file string) (host.Source, func(), error) {
	src := host.MultiSource{host.DirSource{Dir: filepath.Dir(file)}}
	for _, dir := range cfg.ModulePaths() {
		src = append(src, host.DirSource{Dir: dir})
	}
	if path := cfg.StorePath(); path != "" {
		s, err := store.Open(path)
		if err != nil {
			return nil, nil, err
		}
		src = append(src, host.StoreSource{Store: s})
		return src, func() { s.Close() }, nil
	}
	return src, func() {}, nil
}

// runFile executes the module in path on a fresh thread. Interrupts from the
// terminal cancel the thread.
func runFile(ctx context.Context, w io.Writer, cfg *config.Config, path string, prof *vm.CountingProfiler) (vm.Value, error) {
	fn, err := readFunction(path)
	if err != nil {
		return nil, err
	}
	policy := cfg.Policy()
	if policy != nil {
		if err := policy.Check(fn); err != nil {
			return nil, err
		}
	}

	src, closeSrc, err := moduleSource(cfg, path)
	if err != nil {
		return nil, err
	}
	defer closeSrc()

	printer := vm.WithPrint(func(_ *vm.Thread, msg string) { fmt.Fprintln(w, msg) })
	threadOpts := append(cfg.ThreadOptions(), printer, vm.WithContext(ctx))
	if prof != nil {
		threadOpts = append(threadOpts, vm.WithProfiler(prof))
	}
	loaderOpts := []host.LoaderOption{host.WithThreadOptions(threadOpts...)}
	if policy != nil {
		loaderOpts = append(loaderOpts, host.WithPolicy(policy))
	}
	loader := host.NewLoader(src, loaderOpts...)

	th := vm.NewThread("main", loader.ThreadOptions()...)
	v, err := th.ExecFunction(fn, nil, nil)
	log.Debugf("%s: %d steps", path, th.Steps())
	return v, err
}

func handleRunCommand(w io.Writer, cfg *config.Config, path string, profile bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var prof *vm.CountingProfiler
	if profile {
		prof = vm.NewCountingProfiler()
	}
	v, err := runFile(ctx, w, cfg, path, prof)
	if err != nil {
		return err
	}
	if v != vm.None {
		fmt.Fprintln(w, vm.Repr(v))
	}
	if prof != nil {
		fmt.Fprintln(w, "\nCalls     Time          Function")
		for _, p := range prof.Top(20) {
			fmt.Fprintf(w, "%-9d %-13s %s\n", p.Calls, p.Total, p.Name)
		}
	}
	return nil
}

// handleStoreCommand processes the `lark store` subcommand.
// Usage:
//
//	lark store put NAME FILE   Add or replace a module
//	lark store ls              List modules
//	lark store rm NAME         Remove a module
func handleStoreCommand(w io.Writer, cfg *config.Config, args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: lark store [put|ls|rm] ...")
		fmt.Fprintln(os.Stderr, "  put NAME FILE   Add or replace a module")
		fmt.Fprintln(os.Stderr, "  ls              List modules")
		fmt.Fprintln(os.Stderr, "  rm NAME         Remove a module")
		os.Exit(2)
	}
	path := cfg.StorePath()
	if path == "" {
		return errors.New("no module store configured (set loader.store in lark.toml)")
	}
	s, err := store.Open(path)
	if err != nil {
		return err
	}
	defer s.Close()

	switch args[0] {
	case "put":
		requireArgs(args, 3, "lark store put NAME FILE")
		data, err := os.ReadFile(args[2])
		if err != nil {
			return err
		}
		h, err := s.PutEncoded(args[1], data)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s %x\n", args[1], h[:8])
	case "ls":
		entries, err := s.List()
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Fprintf(w, "%-24s %x %8d %s\n", e.Name, e.Hash[:8], e.Size, e.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
	case "rm":
		requireArgs(args, 2, "lark store rm NAME")
		return s.Delete(args[1])
	default:
		return fmt.Errorf("unknown store subcommand: %s", args[0])
	}
	return nil
}

func handleDemoCommand(w io.Writer, dir string) error {
	mods, err := demoModules()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, name := range demoOrder {
		data, err := dist.MarshalFunction(mods[name])
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		path := filepath.Join(dir, name+host.FileExt)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(w, "wrote %s\n", path)
	}
	return nil
}
