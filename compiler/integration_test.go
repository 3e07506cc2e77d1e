package compiler

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/QaisAlsaid/oklang-sub000/vm"
)

// Integration tests: compile and execute real oklang programs

func run(t *testing.T, src string) (string, vm.Value, error) {
	t.Helper()
	var out bytes.Buffer
	v := NewVM(vm.Options{Stdout: &out})
	result, err := v.Interpret("test", src)
	return out.String(), result, err
}

func expectOutput(t *testing.T, src, want string) {
	t.Helper()
	out, _, err := run(t, src)
	if err != nil {
		t.Fatalf("interpret error: %v", err)
	}
	if out != want {
		t.Errorf("output =\n%s\nwant\n%s", out, want)
	}
}

func TestIntegrationFibonacci(t *testing.T) {
	expectOutput(t, `
fun fib(n) {
  if (n < 2) return n;
  return fib(n - 2) + fib(n - 1);
}
print fib(20);
`, "6765\n")
}

func TestIntegrationCounterClosure(t *testing.T) {
	expectOutput(t, `
fun makeCounter() {
  var i = 0;
  fun count() {
    i = i + 1;
    return i;
  }
  return count;
}
var c = makeCounter();
print c();
print c();
var d = makeCounter();
print d();
print c();
`, "1\n2\n1\n3\n")
}

func TestIntegrationSharedUpvalue(t *testing.T) {
	expectOutput(t, `
var get;
var set;
{
  var x = "before";
  fun g() { return x; }
  fun s(v) { x = v; }
  get = g;
  set = s;
}
set("after");
print get();
`, "after\n")
}

func TestIntegrationLoopClosuresCaptureEachIteration(t *testing.T) {
	expectOutput(t, `
var fs0; var fs1; var fs2;
for (var i = 0; i < 3; i = i + 1) {
  var j = i;
  fun f() { return j; }
  if (i == 0) fs0 = f;
  if (i == 1) fs1 = f;
  if (i == 2) fs2 = f;
}
print fs0();
print fs1();
print fs2();
`, "0\n1\n2\n")
}

func TestIntegrationClasses(t *testing.T) {
	expectOutput(t, `
class Doughnut {
  cook() { print "Dunk in the fryer."; this.finish("sprinkles"); }
  finish(ingredient) { print "Finish with " + ingredient; }
}
class Cruller < Doughnut {
  finish(ingredient) {
    super.finish("icing");
  }
}
Cruller().cook();
`, "Dunk in the fryer.\nFinish with icing\n")
}

func TestIntegrationInitializerAndFields(t *testing.T) {
	expectOutput(t, `
class Point {
  init(x, y) { this.x = x; this.y = y; }
  sum() { return this.x + this.y; }
}
var p = Point(3, 4);
print p.sum();
p.x = 10;
print p.sum();
print p;
print Point;
var m = p.sum;
print m();
print p.init(1, 1) == p;
`, "7\n14\nPoint instance\nPoint\n14\ntrue\n")
}

func TestIntegrationFieldShadowsMethod(t *testing.T) {
	expectOutput(t, `
class A { m() { return "method"; } }
fun f() { return "field"; }
var a = A();
print a.m();
a.m = f;
print a.m();
`, "method\nfield\n")
}

func TestIntegrationSuperGetBindsReceiver(t *testing.T) {
	expectOutput(t, `
class A { name() { return "A:" + this.tag; } }
class B < A {
  init() { this.tag = "b"; }
  name() { var f = super.name; return f(); }
}
print B().name();
`, "A:b\n")
}

func TestIntegrationLogicalOperators(t *testing.T) {
	expectOutput(t, `
print nil or "default";
print 1 and 2;
print false and undefinedWouldFail;
print true or undefinedWouldFail;
print !nil;
print 0 == false;
`, "default\n2\nfalse\ntrue\ntrue\nfalse\n")
}

func TestIntegrationInfiniteForWithReturn(t *testing.T) {
	expectOutput(t, `
fun firstAtLeast(limit) {
  var n = 0;
  for (;;) {
    n = n + 1;
    if (n >= limit) return n;
  }
}
print firstAtLeast(4);
`, "4\n")
}

func TestIntegrationWhileAndFor(t *testing.T) {
	expectOutput(t, `
var sum = 0;
var i = 0;
while (i < 5) { sum = sum + i; i = i + 1; }
print sum;
for (var k = 0; k < 3; k = k + 1) print k;
`, "10\n0\n1\n2\n")
}

func TestIntegrationStrings(t *testing.T) {
	out, result, err := run(t, `
var a = "con" + "cat";
print a == "concat";
print len("héllo");
print type(a);
print str(12.5) + "!";
a
`)
	if err != nil {
		t.Fatalf("interpret error: %v", err)
	}
	if out != "true\n5\nstring\n12.5!\n" {
		t.Errorf("output = %q", out)
	}
	if !result.IsObject() {
		t.Errorf("result = %v, want a string", result)
	}
}

func TestIntegrationNumberFormatting(t *testing.T) {
	expectOutput(t, `
print 1 / 3;
print 10;
print -0.5;
print 1 / 0;
print 2 * 3.5;
`, "0.3333333333333333\n10\n-0.5\ninf\n7\n")
}

func TestIntegrationRuntimeErrorTrace(t *testing.T) {
	out, _, err := run(t, `fun a() { b(); }
fun b() { c(); }
fun c() {
  return 1 + nil;
}
print "start";
a();
`)

	var rtErr *vm.RuntimeError
	if !errors.As(err, &rtErr) {
		t.Fatalf("err = %v, want *vm.RuntimeError", err)
	}
	if rtErr.Message != "Operands must be two numbers or two strings." {
		t.Errorf("message = %q", rtErr.Message)
	}
	if rtErr.Line != 4 {
		t.Errorf("line = %d, want 4", rtErr.Line)
	}
	want := []string{"c()", "b()", "a()", "script"}
	if len(rtErr.Trace) != len(want) {
		t.Fatalf("trace = %+v, want %v", rtErr.Trace, want)
	}
	for i, fn := range want {
		if rtErr.Trace[i].Function != fn {
			t.Errorf("trace[%d] = %s, want %s", i, rtErr.Trace[i].Function, fn)
		}
	}
	if out != "start\n" {
		t.Errorf("output before the error = %q", out)
	}
	if vm.ResultOf(err) != vm.ResultRuntimeError {
		t.Errorf("ResultOf = %v", vm.ResultOf(err))
	}
}

func TestIntegrationVMUsableAfterRuntimeError(t *testing.T) {
	var out bytes.Buffer
	v := NewVM(vm.Options{Stdout: &out})

	if _, err := v.Interpret("one", "var x = 1; x();"); err == nil {
		t.Fatal("calling a number succeeded")
	}
	if _, err := v.Interpret("two", "print x + 1;"); err != nil {
		t.Fatalf("second interpret: %v", err)
	}
	if out.String() != "2\n" {
		t.Errorf("output = %q", out.String())
	}
	if v.Depth() != 0 {
		t.Errorf("depth = %d after recovery", v.Depth())
	}
}

func TestIntegrationStackOverflow(t *testing.T) {
	_, _, err := run(t, "fun f() { f(); } f();")
	var rtErr *vm.RuntimeError
	if !errors.As(err, &rtErr) || rtErr.Message != "Stack overflow." {
		t.Fatalf("err = %v, want stack overflow", err)
	}
}

func TestIntegrationCompileErrorResult(t *testing.T) {
	_, _, err := run(t, "print 1 +;\nvar = 2;")
	var cErr *vm.CompileError
	if !errors.As(err, &cErr) {
		t.Fatalf("err = %v, want *vm.CompileError", err)
	}
	if len(cErr.Diagnostics) != 2 {
		t.Errorf("diagnostics = %v, want 2", cErr.Diagnostics)
	}
	if vm.ResultOf(err) != vm.ResultCompileError {
		t.Errorf("ResultOf = %v", vm.ResultOf(err))
	}
	if !strings.HasPrefix(err.Error(), "test:1:") {
		t.Errorf("error = %q, want source-prefixed", err.Error())
	}
}

func TestIntegrationGarbageIsCollected(t *testing.T) {
	var out bytes.Buffer
	v := NewVM(vm.Options{Stdout: &out, InitialGCThreshold: 64 * 1024})

	_, err := v.Interpret("gc", `
class Node { init(next) { this.next = next; } }
for (var i = 0; i < 20000; i = i + 1) {
  var n = Node(Node(nil));
  var s = "x" + str(i);
}
`)
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}

	stats := v.Stats()
	if stats.Collections == 0 {
		t.Error("no collection ran")
	}
	if stats.ObjectsByKind["instance"] > 10000 {
		t.Errorf("%d instances live after the loop", stats.ObjectsByKind["instance"])
	}
}

func TestIntegrationStressGC(t *testing.T) {
	var out bytes.Buffer
	v := NewVM(vm.Options{Stdout: &out, StressGC: true})

	_, err := v.Interpret("stress", `
class List {
  init(head, tail) { this.head = head; this.tail = tail; }
  sum() {
    if (this.tail == nil) return this.head;
    return this.head + this.tail.sum();
  }
}
fun build(n) {
  var l = nil;
  for (var i = 1; i <= n; i = i + 1) l = List(i, l);
  return l;
}
fun adder(k) { fun add(x) { return x + k; } return add; }
var add2 = adder(2);
print add2(build(50).sum());
print "a" + "b" + "c";
`)
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	if out.String() != "1277\nabc\n" {
		t.Errorf("output = %q", out.String())
	}
}
