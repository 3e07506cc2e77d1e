package main

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/QaisAlsaid/oklang-sub000/vm"
)

// runREPL reads statements from in until EOF or "exit". Input is run once
// its braces balance, so a multi-line function can be typed naturally.
// Globals persist between entries.
func runREPL(v *vm.VM, in io.Reader, out io.Writer) {
	fmt.Fprintln(out, "oklang REPL (type 'exit' to quit, ':help' for commands)")

	scanner := bufio.NewScanner(in)
	var buf strings.Builder
	depth := 0
	entry := 0

	for {
		if buf.Len() == 0 {
			fmt.Fprint(out, ">> ")
		} else {
			fmt.Fprint(out, ".. ")
		}

		if !scanner.Scan() {
			break
		}
		line := scanner.Text()

		if buf.Len() == 0 {
			trimmed := strings.TrimSpace(line)
			if trimmed == "exit" || trimmed == "quit" {
				break
			}
			if strings.HasPrefix(trimmed, ":") {
				handleREPLCommand(v, trimmed, out)
				continue
			}
			if trimmed == "" {
				continue
			}
		}

		if buf.Len() > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString(line)
		depth += braceDelta(line)
		if depth > 0 {
			continue
		}

		entry++
		evalAndPrint(v, fmt.Sprintf("repl:%d", entry), buf.String(), out)
		buf.Reset()
		depth = 0
	}

	fmt.Fprintln(out)
}

// braceDelta counts the net braces a line opens, ignoring string
// literals.
func braceDelta(line string) int {
	delta := 0
	inString := false
	for i := 0; i < len(line); i++ {
		switch c := line[i]; {
		case c == '"':
			inString = !inString
		case inString:
		case c == '/' && i+1 < len(line) && line[i+1] == '/':
			return delta
		case c == '{':
			delta++
		case c == '}':
			delta--
		}
	}
	return delta
}

// evalAndPrint runs one entry and shows its value when it ends in a bare
// expression.
func evalAndPrint(v *vm.VM, name, source string, out io.Writer) {
	result, err := v.Interpret(name, source)
	if err != nil {
		fmt.Fprintf(out, "%v\n", err)
		return
	}
	if !result.IsNil() {
		fmt.Fprintf(out, "=> %s\n", v.Format(result))
	}
}

// handleREPLCommand handles REPL meta-commands.
func handleREPLCommand(v *vm.VM, cmd string, out io.Writer) {
	fields := strings.Fields(cmd)
	switch fields[0] {
	case ":help", ":h", ":?":
		fmt.Fprintln(out, "REPL Commands:")
		fmt.Fprintln(out, "  :help, :h, :?     Show this help")
		fmt.Fprintln(out, "  :globals          List defined globals")
		fmt.Fprintln(out, "  :disasm <code>    Show the bytecode for code")
		fmt.Fprintln(out, "  :gc               Run a collection")
		fmt.Fprintln(out, "  :stats            Show heap statistics")
		fmt.Fprintln(out, "  exit, quit        Exit REPL")
	case ":globals":
		names := v.GlobalNames()
		sort.Strings(names)
		for _, name := range names {
			val, _ := v.Global(name)
			fmt.Fprintf(out, "  %-16s %s\n", name, v.Format(val))
		}
	case ":disasm":
		src := strings.TrimSpace(strings.TrimPrefix(cmd, fields[0]))
		if src == "" {
			fmt.Fprintln(out, "usage: :disasm <code>")
			return
		}
		fn, err := v.Compile("disasm", src)
		if err != nil {
			fmt.Fprintln(out, err)
			return
		}
		fmt.Fprint(out, v.Disassemble(fn))
	case ":gc":
		st := v.CollectGarbage()
		fmt.Fprintf(out, "freed %d objects, %d -> %d bytes\n", st.ObjectsFreed, st.BytesBefore, st.BytesAfter)
	case ":stats":
		st := v.Stats()
		fmt.Fprintf(out, "objects: %d, bytes: %d, next gc: %d, strings: %d, globals: %d, collections: %d\n",
			st.Objects, st.BytesAllocated, st.NextGC, st.Strings, st.Globals, st.Collections)
		kinds := make([]string, 0, len(st.ObjectsByKind))
		for k := range st.ObjectsByKind {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Fprintf(out, "  %-14s %d\n", k, st.ObjectsByKind[k])
		}
	default:
		fmt.Fprintf(out, "unknown command %s (try :help)\n", fields[0])
	}
}
