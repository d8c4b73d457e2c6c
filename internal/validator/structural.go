package validator

import (
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

var dangerousCalls = map[string]struct{}{
	"exec": {}, "eval": {}, "compile": {}, "__import__": {},
}

var dangerousAttributes = map[string]struct{}{
	"__globals__": {}, "__builtins__": {}, "__subclasses__": {}, "__class__": {},
	"__bases__": {}, "__mro__": {}, "__code__": {}, "__reduce__": {},
}

// CallChecker flags direct calls to execution primitives and access to
// escape-prone dunder attributes, however the names got into scope.
type CallChecker struct{}

func (CallChecker) Name() string { return "ast" }

func (CallChecker) Check(src *Source) (errs, warnings []string) {
	seenCalls := map[string]bool{}
	seenAttrs := map[string]bool{}
	src.Walk(func(n *sitter.Node) bool {
		switch n.Type() {
		case "call":
			fn := n.ChildByFieldName("function")
			if fn != nil && fn.Type() == "identifier" {
				name := src.Text(fn)
				if _, ok := dangerousCalls[name]; ok && !seenCalls[name] {
					seenCalls[name] = true
					errs = append(errs, fmt.Sprintf("Dangerous function call: '%s' is not allowed", name))
				}
			}
		case "attribute":
			attr := n.ChildByFieldName("attribute")
			if attr != nil {
				name := src.Text(attr)
				if _, ok := dangerousAttributes[name]; ok && !seenAttrs[name] {
					seenAttrs[name] = true
					errs = append(errs, fmt.Sprintf("Dangerous attribute access: '%s' is not allowed", name))
				}
			}
		}
		return true
	})
	return errs, nil
}
