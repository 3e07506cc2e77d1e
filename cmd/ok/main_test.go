package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/QaisAlsaid/oklang-sub000/compiler"
	"github.com/QaisAlsaid/oklang-sub000/vm"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// writeScript writes a script into dir and returns its path.
func writeScript(t *testing.T, dir, name, source string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(source), 0644); err != nil {
		t.Fatalf("writing %s: %v", p, err)
	}
	return p
}

// runCLI runs the CLI with an explicit empty config so the result does not
// depend on an oklang.toml above the test directory.
func runCLI(t *testing.T, opts cliOptions, args ...string) (int, string, string) {
	t.Helper()
	if opts.configPath == "" {
		opts.configPath = writeScript(t, t.TempDir(), "oklang.toml", "")
	}
	var stdout, stderr bytes.Buffer
	code := run(opts, map[string]bool{}, args, strings.NewReader(""), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// ---------------------------------------------------------------------------
// Scripts
// ---------------------------------------------------------------------------

func TestRunFile(t *testing.T) {
	path := writeScript(t, t.TempDir(), "hello.ok", `
fun greet(name) { return "hello " + name; }
print greet("world");
`)
	code, stdout, stderr := runCLI(t, cliOptions{}, path)
	if code != exitOK {
		t.Fatalf("exit = %d, stderr = %s", code, stderr)
	}
	if stdout != "hello world\n" {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestRunFileExitCodes(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name   string
		source string
		code   int
		stderr string
	}{
		{"compile error", "print ;", exitCompileError, "Expect expression."},
		{"runtime error", "print -\"x\";", exitRuntimeError, "Operand must be a number."},
		{"undefined variable", "print nope;", exitRuntimeError, "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeScript(t, dir, strings.ReplaceAll(tt.name, " ", "_")+".ok", tt.source)
			code, _, stderr := runCLI(t, cliOptions{}, path)
			if code != tt.code {
				t.Errorf("exit = %d, want %d", code, tt.code)
			}
			if !strings.Contains(stderr, tt.stderr) {
				t.Errorf("stderr = %q, want it to mention %q", stderr, tt.stderr)
			}
		})
	}
}

func TestRunFileMissing(t *testing.T) {
	code, _, _ := runCLI(t, cliOptions{}, filepath.Join(t.TempDir(), "missing.ok"))
	if code != exitIOError {
		t.Errorf("exit = %d, want %d", code, exitIOError)
	}
}

func TestRunFileDisasm(t *testing.T) {
	path := writeScript(t, t.TempDir(), "d.ok", "print 1 + 2;")
	code, stdout, _ := runCLI(t, cliOptions{disasm: true}, path)
	if code != exitOK {
		t.Fatalf("exit = %d", code)
	}
	if !strings.Contains(stdout, "ADD") || !strings.HasSuffix(stdout, "3\n") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestStressGCFlag(t *testing.T) {
	path := writeScript(t, t.TempDir(), "gc.ok", `
class Node { init(next) { this.next = next; } }
var list = nil;
for (var i = 0; i < 50; i = i + 1) { list = Node(list); }
var n = 0;
while (list != nil) { n = n + 1; list = list.next; }
print n;
`)
	code, stdout, stderr := runCLI(t, cliOptions{stressGC: true}, path)
	if code != exitOK {
		t.Fatalf("exit = %d, stderr = %s", code, stderr)
	}
	if stdout != "50\n" {
		t.Errorf("stdout = %q", stdout)
	}
}

// ---------------------------------------------------------------------------
// Images
// ---------------------------------------------------------------------------

func TestCompileAndRunImage(t *testing.T) {
	dir := t.TempDir()
	src := writeScript(t, dir, "counter.ok", `
fun makeCounter() {
  var n = 0;
  fun inc() { n = n + 1; return n; }
  return inc;
}
var c = makeCounter();
c(); c();
print c();
`)
	img := filepath.Join(dir, "counter.okc")

	code, stdout, stderr := runCLI(t, cliOptions{output: img}, src)
	if code != exitOK {
		t.Fatalf("compile exit = %d, stderr = %s", code, stderr)
	}
	if stdout != "" {
		t.Errorf("compiling should not run the script, stdout = %q", stdout)
	}

	code, stdout, stderr = runCLI(t, cliOptions{image: img})
	if code != exitOK {
		t.Fatalf("image exit = %d, stderr = %s", code, stderr)
	}
	if stdout != "3\n" {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestRunCorruptImage(t *testing.T) {
	img := writeScript(t, t.TempDir(), "bad.okc", "not an image")
	code, _, stderr := runCLI(t, cliOptions{image: img})
	if code != exitIOError {
		t.Errorf("exit = %d, want %d", code, exitIOError)
	}
	if !strings.Contains(stderr, "loading image") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestRunImageWithCorruptBytecode(t *testing.T) {
	v := vm.New(vm.Options{})
	fn := v.NewFunction(vm.NewSource("bad", ""))
	fn.Chunk.WriteOp(vm.OpGetLocal, 0)
	fn.Chunk.WriteBytes(0, 9)
	fn.Chunk.WriteOp(vm.OpReturn, 0)
	data, err := v.EncodeImage(fn)
	if err != nil {
		t.Fatal(err)
	}
	img := filepath.Join(t.TempDir(), "bad.okc")
	if err := os.WriteFile(img, data, 0644); err != nil {
		t.Fatal(err)
	}

	code, _, stderr := runCLI(t, cliOptions{image: img})
	if code != exitIOError {
		t.Errorf("exit = %d, want %d", code, exitIOError)
	}
	if !strings.Contains(stderr, "corrupt chunk") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestOutputWithoutScript(t *testing.T) {
	code, _, _ := runCLI(t, cliOptions{output: "x.okc"})
	if code != exitUsage {
		t.Errorf("exit = %d, want %d", code, exitUsage)
	}
}

// ---------------------------------------------------------------------------
// Config and cache
// ---------------------------------------------------------------------------

func TestCacheFlag(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeScript(t, dir, "oklang.toml", "[cache]\npath = \"cache.db\"\n")
	src := writeScript(t, dir, "c.ok", `print "cached";`)

	for i := 0; i < 2; i++ {
		code, stdout, stderr := runCLI(t, cliOptions{configPath: cfgPath, useCache: true}, src)
		if code != exitOK || stdout != "cached\n" {
			t.Fatalf("run %d: exit = %d, stdout = %q, stderr = %s", i, code, stdout, stderr)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "cache.db")); err != nil {
		t.Errorf("cache database not created: %v", err)
	}
}

func TestInvalidConfig(t *testing.T) {
	cfgPath := writeScript(t, t.TempDir(), "oklang.toml", "[gc]\ngrowth_factor = 0.1\n")
	code, _, stderr := runCLI(t, cliOptions{configPath: cfgPath})
	if code != exitUsage {
		t.Errorf("exit = %d, want %d", code, exitUsage)
	}
	if !strings.Contains(stderr, "invalid configuration") {
		t.Errorf("stderr = %q", stderr)
	}
}

// ---------------------------------------------------------------------------
// REPL
// ---------------------------------------------------------------------------

func TestREPL(t *testing.T) {
	v := compiler.NewVM(vm.Options{})
	var out bytes.Buffer
	v.SetOutput(&out)

	input := strings.Join([]string{
		"var x = 40;",
		"fun add(a, b) {",
		"  return a + b;",
		"}",
		"add(x, 2)",
		"print \"{ not a brace\";",
		":globals",
		"exit",
		"print 99;",
	}, "\n")
	runREPL(v, strings.NewReader(input), &out)

	got := out.String()
	for _, want := range []string{"=> 42\n", "{ not a brace\n", "add", "<fn add>"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "99") {
		t.Errorf("input after exit was run:\n%s", got)
	}
}

func TestREPLKeepsGoingAfterErrors(t *testing.T) {
	v := compiler.NewVM(vm.Options{})
	var out bytes.Buffer
	v.SetOutput(&out)

	runREPL(v, strings.NewReader("print nope;\n1 +\n2 * 3\n"), &out)
	got := out.String()
	if !strings.Contains(got, "Undefined variable 'nope'.") {
		t.Errorf("missing runtime error:\n%s", got)
	}
	if !strings.Contains(got, "=> 6\n") {
		t.Errorf("REPL stopped after an error:\n%s", got)
	}
}

func TestBraceDelta(t *testing.T) {
	tests := []struct {
		line string
		want int
	}{
		{"fun f() {", 1},
		{"}", -1},
		{"{ { }", 1},
		{`print "{";`, 0},
		{"var a = 1; // {", 0},
	}
	for _, tt := range tests {
		if got := braceDelta(tt.line); got != tt.want {
			t.Errorf("braceDelta(%q) = %d, want %d", tt.line, got, tt.want)
		}
	}
}
