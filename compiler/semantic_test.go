package compiler

import (
	"strings"
	"testing"
)

func lint(t *testing.T, src string) []string {
	t.Helper()
	prog := mustParse(t, src)
	var out []string
	for _, d := range Lint(prog) {
		out = append(out, d.Code+" "+d.Message)
	}
	return out
}

func hasWarning(warnings []string, code, fragment string) bool {
	for _, w := range warnings {
		if strings.HasPrefix(w, code) && strings.Contains(w, fragment) {
			return true
		}
	}
	return false
}

func TestSemanticAnalyzer_UndefinedGlobal(t *testing.T) {
	warnings := lint(t, "print undefinedVar;")
	if !hasWarning(warnings, CodeUndefinedGlobal, "undefinedVar") {
		t.Errorf("expected warning about undefined variable, got: %v", warnings)
	}
}

func TestSemanticAnalyzer_DefinedLater(t *testing.T) {
	warnings := lint(t, `
fun f() { return g(); }
fun g() { return clock(); }
print f();`)
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
}

func TestSemanticAnalyzer_UnusedLocal(t *testing.T) {
	warnings := lint(t, `
fun f(unusedParam) {
  var used = 1;
  var unused = 2;
  return used;
}`)
	if !hasWarning(warnings, CodeUnusedLocal, "'unused'") {
		t.Errorf("expected unused-local warning, got: %v", warnings)
	}
	if hasWarning(warnings, CodeUnusedLocal, "'used'") {
		t.Errorf("used local reported: %v", warnings)
	}
	if hasWarning(warnings, CodeUnusedLocal, "unusedParam") {
		t.Errorf("parameter reported: %v", warnings)
	}
}

func TestSemanticAnalyzer_CapturedLocalIsUsed(t *testing.T) {
	warnings := lint(t, `
fun outer() {
  var x = 1;
  fun inner() { return x; }
  return inner;
}`)
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
}

func TestSemanticAnalyzer_UnreachableCode(t *testing.T) {
	warnings := lint(t, `
fun f() {
  return 1;
  print "never";
}`)
	if !hasWarning(warnings, CodeUnreachableCode, "unreachable") {
		t.Errorf("expected unreachable-code warning, got: %v", warnings)
	}
}

func TestSemanticAnalyzer_Shadowing(t *testing.T) {
	warnings := lint(t, `
fun f(a) {
  { var a = 2; print a; }
}`)
	if !hasWarning(warnings, CodeShadowedVariable, "'a'") {
		t.Errorf("expected shadowing warning, got: %v", warnings)
	}
}

func TestCheckCombinesErrorsAndWarnings(t *testing.T) {
	diags := Check("check", "fun f() { var x = 1; return 1; print 2; }")
	var warnings, errs int
	for _, d := range diags {
		if IsWarning(d) {
			warnings++
		} else {
			errs++
		}
	}
	if errs != 0 {
		t.Errorf("errors = %d, want 0: %v", errs, diags)
	}
	if warnings != 2 {
		t.Errorf("warnings = %d, want 2 (unused x, unreachable print): %v", warnings, diags)
	}

	diags = Check("check", "return 1;")
	if len(diags) != 1 || diags[0].Code != CodeTopLevelReturn {
		t.Errorf("diagnostics = %v, want one %s", diags, CodeTopLevelReturn)
	}
}
