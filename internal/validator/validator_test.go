package validator

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

const safeSolver = `from collections import deque
import heapq
import math

OPPOSITE = {"north": "south", "south": "north", "east": "west", "west": "east"}


def solve():
    visited = set()
    path = []
    pos = (0, 0)
    visited.add(pos)
    while True:
        view = look()
        moved = False
        for d in ("north", "east", "south", "west"):
            if view[d] == "X":
                continue
            result = move(d)
            if result["status"] == "completed":
                print(f"done in {result['turns']} turns")
                return
            if result["status"] in ("moved", "mud"):
                nxt = (result["position"]["x"], result["position"]["y"])
                if nxt in visited:
                    move(OPPOSITE[d])
                    continue
                visited.add(nxt)
                path.append(d)
                moved = True
                break
        if not moved and path:
            move(OPPOSITE[path.pop()])


queue = deque()
heapq.heappush([], 1)
solve()
`

func TestValidateAcceptsSafeProgram(t *testing.T) {
	res := New().Validate(safeSolver)
	if !res.IsValid {
		t.Fatalf("safe program rejected: %v", res.Errors)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", res.Warnings)
	}
}

func TestValidateBlocksDeniedImports(t *testing.T) {
	for _, mod := range []string{"os", "socket", "subprocess", "pickle", "ctypes", "threading", "asyncio", "importlib"} {
		t.Run(mod, func(t *testing.T) {
			res := New().Validate("import " + mod + "\n")
			if res.IsValid {
				t.Fatalf("import %s accepted", mod)
			}
			want := "Blocked import: '" + mod + "' is not allowed for security reasons"
			if len(res.Errors) == 0 || res.Errors[0] != want {
				t.Fatalf("errors = %v, want first %q", res.Errors, want)
			}
		})
	}
}

func TestValidateImportForms(t *testing.T) {
	tests := []struct {
		name string
		code string
		want []string
	}{
		{"dotted", "import os.path\n", []string{"Blocked import: 'os.path' is not allowed for security reasons"}},
		{"aliased", "import math, multiprocessing.pool as mp\n", []string{"Blocked import: 'multiprocessing.pool' is not allowed for security reasons"}},
		{"from", "from shutil import copy\n", []string{"Blocked import: 'from shutil' is not allowed for security reasons"}},
		{"from dotted", "from concurrent.futures import ThreadPoolExecutor\n", []string{"Blocked import: 'from concurrent.futures' is not allowed for security reasons"}},
		{"relative with module", "from .marshal import loads\n", []string{"Blocked import: 'from marshal' is not allowed for security reasons"}},
		{"relative bare", "from . import helpers\n", nil},
		{"allowed", "import collections.abc\nfrom itertools import count\n", nil},
		{"nested in function", "def f():\n    import signal\n", []string{"Blocked import: 'signal' is not allowed for security reasons"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, syntaxErr, release, err := parseSource(context.Background(), tt.code)
			defer release()
			if err != nil || syntaxErr != "" {
				t.Fatalf("parse failed: %v %s", err, syntaxErr)
			}
			errs, _ := ImportChecker{}.Check(src)
			if !reflect.DeepEqual(errs, tt.want) {
				t.Fatalf("errors = %#v, want %#v", errs, tt.want)
			}
		})
	}
}

func TestValidateOrdersPassesAndDedupes(t *testing.T) {
	code := "import pickle\nexec('1')\nexec('2')\n"
	res := New().Validate(code)
	want := []string{
		"Blocked import: 'pickle' is not allowed for security reasons",
		"Dangerous pattern detected: code execution primitive",
		"Dangerous function call: 'exec' is not allowed",
	}
	if !reflect.DeepEqual(res.Errors, want) {
		t.Fatalf("errors = %#v, want %#v", res.Errors, want)
	}
}

func TestCallCheckerAttributes(t *testing.T) {
	src, _, release, err := parseSource(context.Background(), "x = ().__class__.__bases__[0].__subclasses__()\ny = f.__class__\n")
	defer release()
	if err != nil || src == nil {
		t.Fatalf("parse failed: %v", err)
	}
	errs, _ := CallChecker{}.Check(src)
	if len(errs) != 3 {
		t.Fatalf("expected 3 distinct attribute errors, got %v", errs)
	}
	for _, name := range []string{"__class__", "__bases__", "__subclasses__"} {
		want := "Dangerous attribute access: '" + name + "' is not allowed"
		found := false
		for _, e := range errs {
			if e == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("missing %q in %v", want, errs)
		}
	}
}

func TestCallCheckerIgnoresMethodCalls(t *testing.T) {
	src, _, release, _ := parseSource(context.Background(), "pattern.compile('x')\n")
	defer release()
	errs, _ := CallChecker{}.Check(src)
	if len(errs) != 0 {
		t.Fatalf("method call flagged: %v", errs)
	}
}

func TestPatternCategories(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"f = open('data.txt')\n", "Dangerous pattern detected: raw file access"},
		{"x = '/etc/hosts'\n", "Dangerous pattern detected: sensitive path or directory traversal"},
		{"p = '../secret'\n", "Dangerous pattern detected: sensitive path or directory traversal"},
		{"import urllib.request\n", "Dangerous pattern detected: raw network access"},
		{"m = __import__('os')\n", "Dangerous pattern detected: dynamic import"},
		{"os.system('ls')\n", "Dangerous pattern detected: OS command execution"},
		{"t = x.__MRO__\n", "Dangerous pattern detected: dunder attribute traversal"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			errs, _ := PatternChecker{}.Check(&Source{Code: tt.code})
			found := false
			for _, e := range errs {
				if e == tt.want {
					found = true
				}
			}
			if !found {
				t.Fatalf("errors = %v, want %q", errs, tt.want)
			}
		})
	}
}

func TestPatternReportsOncePerCategory(t *testing.T) {
	errs, _ := PatternChecker{}.Check(&Source{Code: "open('a')\nopen('b')\nfile('c')\n"})
	if len(errs) != 1 {
		t.Fatalf("expected a single raw file access error, got %v", errs)
	}
}

func TestValidateSyntaxErrorShortCircuits(t *testing.T) {
	res := New().Validate("import os\ndef broken(:\n    pass\n")
	if res.IsValid {
		t.Fatalf("broken code accepted")
	}
	if len(res.Errors) != 1 || !strings.HasPrefix(res.Errors[0], "Syntax error: ") {
		t.Fatalf("errors = %v", res.Errors)
	}
	if !strings.Contains(res.Errors[0], "at line ") {
		t.Fatalf("syntax error has no line: %q", res.Errors[0])
	}

	python2 := []struct {
		code string
		want string
	}{
		{"print \"hi\"\n", "Syntax error: invalid syntax at line 1"},
		{"x = 1\nexec \"x = 1\"\n", "Syntax error: invalid syntax at line 2"},
		{"import sys\nf = sys.stderr\nprint >>f, 'x'\n", "Syntax error: invalid syntax at line 3"},
	}
	for _, tc := range python2 {
		res := New().Validate(tc.code)
		if res.IsValid || len(res.Errors) != 1 || res.Errors[0] != tc.want {
			t.Fatalf("%q: errors = %v", tc.code, res.Errors)
		}
	}
	if res := New().Validate("print('hi')\nprint(look())\n"); !res.IsValid {
		t.Fatalf("print call rejected: %v", res.Errors)
	}
}

func TestLengthLimits(t *testing.T) {
	long := "# " + strings.Repeat("a", MaxCodeLength) + "\n"
	res := New().Validate(long)
	if res.IsValid || res.Errors[len(res.Errors)-1] != "Code exceeds maximum length of 100,000 characters" {
		t.Fatalf("errors = %v", res.Errors)
	}

	many := strings.Repeat("x = 1\n", MaxCodeLines+1)
	res = New().Validate(many)
	if !res.IsValid {
		t.Fatalf("line count must only warn: %v", res.Errors)
	}
	want := "Code has 5002 lines, which may affect execution time"
	if len(res.Warnings) != 1 || res.Warnings[0] != want {
		t.Fatalf("warnings = %v, want %q", res.Warnings, want)
	}
}

func TestCheckFilesystemEscape(t *testing.T) {
	got := CheckFilesystemEscape("data = open('/etc/passwd').read()\n")
	want := []string{"Attempt to access /etc/passwd", "Opening absolute path"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("escape = %#v, want %#v", got, want)
	}
	if got := CheckFilesystemEscape(safeSolver); len(got) != 0 {
		t.Fatalf("safe program flagged: %v", got)
	}
	got = CheckFilesystemEscape("import shutil\nopen('../../x')\n")
	want = []string{"Path traversal using ../", "Using shutil module", "Opening relative path escape"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("escape = %#v, want %#v", got, want)
	}
}

func TestValidateIsDeterministic(t *testing.T) {
	fragments := []string{
		"import os\n", "x = 1\n", "exec('x')\n", "print(look())\n", "move('north')\n",
		"y = ().__class__\n", "def f(:\n", "from . import a\n", "open('/etc/x')\n", "# comment\n",
	}
	v := New()
	rapid.Check(t, func(t *rapid.T) {
		parts := rapid.SliceOfN(rapid.SampledFrom(fragments), 0, 12).Draw(t, "parts")
		code := strings.Join(parts, "")
		first := v.Validate(code)
		second := v.Validate(code)
		if !reflect.DeepEqual(first, second) {
			t.Fatalf("validate not deterministic for %q:\n%v\n%v", code, first, second)
		}
		if first.IsValid != (len(first.Errors) == 0) {
			t.Fatalf("IsValid disagrees with errors: %+v", first)
		}
	})
}
