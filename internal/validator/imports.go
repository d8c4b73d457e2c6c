package validator

import (
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// blockedModules are top-level modules user code may not import.
var blockedModules = map[string]struct{}{
	// system access
	"os": {}, "sys": {}, "subprocess": {}, "shutil": {}, "pathlib": {}, "glob": {},
	// network
	"socket": {}, "requests": {}, "httpx": {}, "aiohttp": {}, "ftplib": {}, "smtplib": {}, "telnetlib": {},
	// code execution
	"exec": {}, "eval": {}, "compile": {}, "code": {}, "importlib": {}, "__import__": {},
	// file access
	"io": {}, "builtins": {}, "open": {},
	// concurrency
	"multiprocessing": {}, "threading": {}, "concurrent": {}, "asyncio": {},
	// low level
	"ctypes": {}, "pickle": {}, "marshal": {}, "shelve": {}, "pty": {}, "fcntl": {},
	"termios": {}, "resource": {}, "signal": {}, "mmap": {},
}

// IsBlockedModule reports whether the top-level package of a dotted module
// name is denied.
func IsBlockedModule(name string) bool {
	top, _, _ := strings.Cut(name, ".")
	_, ok := blockedModules[top]
	return ok
}

// ImportChecker flags import statements that pull in denied modules.
type ImportChecker struct{}

func (ImportChecker) Name() string { return "imports" }

func (ImportChecker) Check(src *Source) (errs, warnings []string) {
	src.Walk(func(n *sitter.Node) bool {
		switch n.Type() {
		case "import_statement":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				name := importedName(src, n.NamedChild(i))
				if name != "" && IsBlockedModule(name) {
					errs = append(errs, fmt.Sprintf("Blocked import: '%s' is not allowed for security reasons", name))
				}
			}
			return false
		case "import_from_statement":
			module := fromModule(src, n.ChildByFieldName("module_name"))
			if module != "" && IsBlockedModule(module) {
				errs = append(errs, fmt.Sprintf("Blocked import: 'from %s' is not allowed for security reasons", module))
			}
			return false
		}
		return true
	})
	return errs, nil
}

// importedName returns the dotted module of an `import` clause, with or
// without an alias.
func importedName(src *Source, n *sitter.Node) string {
	if n == nil {
		return ""
	}
	switch n.Type() {
	case "dotted_name":
		return compact(src.Text(n))
	case "aliased_import":
		return compact(src.Text(n.ChildByFieldName("name")))
	}
	return ""
}

// fromModule returns the module of a `from X import` clause. Relative imports
// yield the module part without the dots; bare `from . import x` yields "".
func fromModule(src *Source, n *sitter.Node) string {
	if n == nil {
		return ""
	}
	switch n.Type() {
	case "dotted_name":
		return compact(src.Text(n))
	case "relative_import":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if child := n.NamedChild(i); child.Type() == "dotted_name" {
				return compact(src.Text(child))
			}
		}
	}
	return ""
}

func compact(s string) string {
	return strings.Join(strings.Fields(s), "")
}
