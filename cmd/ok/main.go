// oklang CLI - runs scripts and bytecode images, hosts the REPL and the
// language servers.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"

	"github.com/QaisAlsaid/oklang-sub000/cache"
	"github.com/QaisAlsaid/oklang-sub000/compiler"
	"github.com/QaisAlsaid/oklang-sub000/config"
	"github.com/QaisAlsaid/oklang-sub000/server"
	"github.com/QaisAlsaid/oklang-sub000/vm"

	_ "github.com/tliron/commonlog/simple"
)

// Exit codes follow sysexits.h.
const (
	exitOK           = 0
	exitUsage        = 64
	exitCompileError = 65
	exitRuntimeError = 70
	exitIOError      = 74
)

type cliOptions struct {
	configPath string
	verbosity  int
	logFile    string
	disasm     bool
	output     string
	image      string
	stressGC   bool
	gcLog      bool
	trace      bool
	serve      bool
	lsp        bool
	useCache   bool
}

func main() {
	var opts cliOptions
	flag.StringVar(&opts.configPath, "config", "", "Path to oklang.toml (default: search upward from the working directory)")
	flag.IntVar(&opts.verbosity, "v", 0, "Log verbosity (0 = notices, 1 = info, 2 = debug)")
	flag.StringVar(&opts.logFile, "log", "", "Write logs to this file instead of stderr")
	flag.BoolVar(&opts.disasm, "disasm", false, "Print the bytecode before running")
	flag.StringVar(&opts.output, "o", "", "Compile the script to a bytecode image instead of running it")
	flag.StringVar(&opts.image, "image", "", "Run a bytecode image")
	flag.BoolVar(&opts.stressGC, "stress-gc", false, "Collect garbage before every allocation")
	flag.BoolVar(&opts.gcLog, "gc-log", false, "Log every collection")
	flag.BoolVar(&opts.trace, "trace", false, "Trace every executed instruction to stderr")
	flag.BoolVar(&opts.serve, "serve", false, "Start the evaluation server (Connect HTTP + gRPC)")
	flag.BoolVar(&opts.lsp, "lsp", false, "Start the language server on stdio")
	flag.BoolVar(&opts.useCache, "cache", false, "Cache compiled scripts")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ok [options] [script.ok]\n\n")
		fmt.Fprintf(os.Stderr, "Runs an oklang script, or starts a REPL when no script is given.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  ok                        # Start REPL\n")
		fmt.Fprintf(os.Stderr, "  ok fib.ok                 # Run a script\n")
		fmt.Fprintf(os.Stderr, "  ok -disasm fib.ok         # Show bytecode, then run\n")
		fmt.Fprintf(os.Stderr, "  ok -o fib.okc fib.ok      # Compile to an image\n")
		fmt.Fprintf(os.Stderr, "  ok -image fib.okc         # Run an image\n")
		fmt.Fprintf(os.Stderr, "\nServers:\n")
		fmt.Fprintf(os.Stderr, "  ok -serve                 # Connect on :4567, gRPC on :4568\n")
		fmt.Fprintf(os.Stderr, "  ok -lsp                   # Language server on stdio\n")
	}
	flag.Parse()

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	os.Exit(run(opts, set, flag.Args(), os.Stdin, os.Stdout, os.Stderr))
}

// run executes one CLI invocation and returns the process exit code.
// set holds the names of flags given explicitly; they override the
// configuration file.
func run(opts cliOptions, set map[string]bool, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	applyFlags(cfg, opts, set)

	// The language server owns stdout; keep logs off it.
	if opts.lsp && cfg.Log.File == "" {
		cfg.Log.Verbosity = -4
	}
	var logPath *string
	if cfg.Log.File != "" {
		logPath = &cfg.Log.File
	}
	commonlog.Configure(cfg.Log.Verbosity, logPath)

	if len(args) > 1 {
		fmt.Fprintf(stderr, "Error: expected at most one script, got %d\n", len(args))
		return exitUsage
	}

	vmOpts := cfg.VMOptions(stdout)
	if cfg.VM.Trace {
		vmOpts.TraceOutput = stderr
	}
	v := compiler.NewVM(vmOpts)

	if cfg.Cache.Enabled {
		c, err := cache.Open(cfg.CachePath())
		if err != nil {
			fmt.Fprintf(stderr, "Warning: compile cache disabled: %v\n", err)
		} else {
			defer c.Close()
			if err := cache.Install(v, c); err != nil {
				fmt.Fprintf(stderr, "Warning: compile cache disabled: %v\n", err)
			}
		}
	}

	switch {
	case opts.lsp:
		if err := server.NewLSP(v).Run(); err != nil {
			fmt.Fprintf(stderr, "LSP error: %v\n", err)
			return exitIOError
		}
		return exitOK

	case opts.serve:
		return serve(v, cfg, stderr)

	case opts.image != "":
		return runImage(v, opts.image, opts.disasm, stdout, stderr)

	case len(args) == 1 && opts.output != "":
		return compileImage(v, args[0], opts.output, opts.disasm, stdout, stderr)

	case len(args) == 1:
		return runFile(v, args[0], opts.disasm, stdout, stderr)

	case opts.output != "":
		fmt.Fprintf(stderr, "Error: -o needs a script to compile\n")
		return exitUsage
	}

	runREPL(v, stdin, stdout)
	return exitOK
}

// loadConfig reads the explicit config file, or the nearest oklang.toml,
// or falls back to the defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return config.Default(), nil
	}
	cfg, err := config.FindAndLoad(wd)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return config.Default(), nil
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, opts cliOptions, set map[string]bool) {
	if set["v"] {
		cfg.Log.Verbosity = opts.verbosity
	}
	if set["log"] {
		cfg.Log.File = opts.logFile
	}
	if opts.stressGC {
		cfg.GC.Stress = true
	}
	if opts.gcLog {
		cfg.GC.Log = true
	}
	if opts.trace {
		cfg.VM.Trace = true
	}
	if opts.useCache {
		cfg.Cache.Enabled = true
	}
}

// exitCodeFor maps an interpreter error to a process exit code and
// reports it.
func exitCodeFor(err error, stderr io.Writer) int {
	switch vm.ResultOf(err) {
	case vm.ResultOK:
		return exitOK
	case vm.ResultCompileError:
		fmt.Fprintln(stderr, err)
		return exitCompileError
	default:
		if errors.Is(err, vm.ErrNoCompiler) {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitCompileError
		}
		fmt.Fprintln(stderr, err)
		return exitRuntimeError
	}
}

// runFile compiles and runs a script.
func runFile(v *vm.VM, path string, disasm bool, stdout, stderr io.Writer) int {
	source, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitIOError
	}

	fn, err := v.Compile(path, string(source))
	if err != nil {
		return exitCodeFor(err, stderr)
	}
	if disasm {
		fmt.Fprintln(stdout, v.Disassemble(fn))
	}
	_, err = v.RunFunction(fn)
	return exitCodeFor(err, stderr)
}

// compileImage writes the bytecode image of a script.
func compileImage(v *vm.VM, path, out string, disasm bool, stdout, stderr io.Writer) int {
	source, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitIOError
	}

	fn, err := v.Compile(path, string(source))
	if err != nil {
		return exitCodeFor(err, stderr)
	}
	if disasm {
		fmt.Fprintln(stdout, v.Disassemble(fn))
	}
	data, err := v.EncodeImage(fn)
	if err != nil {
		fmt.Fprintf(stderr, "Error encoding image: %v\n", err)
		return exitCompileError
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitIOError
	}
	return exitOK
}

// runImage loads and runs a bytecode image. Images come from outside the
// process, so bytecode the loader could not reject statically is reported
// as a corrupt image instead of crashing.
func runImage(v *vm.VM, path string, disasm bool, stdout, stderr io.Writer) (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(stderr, "Error running image %s: corrupt bytecode: %v\n", path, r)
			code = exitIOError
		}
	}()


	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitIOError
	}
	fn, err := v.LoadImage(data)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading image %s: %v\n", path, err)
		return exitIOError
	}
	if disasm {
		fmt.Fprintln(stdout, v.Disassemble(fn))
	}
	_, err = v.RunFunction(fn)
	return exitCodeFor(err, stderr)
}

// serve runs the Connect and gRPC servers until one fails.
func serve(v *vm.VM, cfg *config.Config, stderr io.Writer) int {
	srv, err := server.New(v)
	if err != nil {
		fmt.Fprintf(stderr, "Server error: %v\n", err)
		return exitIOError
	}
	defer srv.Stop()

	errs := make(chan error, 2)
	go func() { errs <- srv.ServeGRPC(cfg.Server.GRPCAddr) }()
	go func() { errs <- srv.ListenAndServe(cfg.Server.Addr) }()

	if err := <-errs; err != nil {
		fmt.Fprintf(stderr, "Server error: %v\n", err)
		return exitIOError
	}
	return exitOK
}
