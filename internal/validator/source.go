package validator

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Source is submitted code plus its syntax tree. Checkers share one Source.
type Source struct {
	Code string

	src  []byte
	root *sitter.Node
}

// parseSource builds a Source. A non-empty syntax message means the code does
// not parse and no tree is available.
func parseSource(ctx context.Context, code string) (*Source, string, func(), error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	src := []byte(code)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		parser.Close()
		return nil, "", func() {}, err
	}
	release := func() {
		tree.Close()
		parser.Close()
	}

	root := tree.RootNode()
	if msg := syntaxMessage(root); msg != "" {
		return nil, msg, release, nil
	}
	return &Source{Code: code, src: src, root: root}, "", release, nil
}

// python2Statements parse in the grammar but are syntax errors in Python 3.
var python2Statements = map[string]bool{
	"print_statement": true,
	"exec_statement":  true,
}

// syntaxMessage reports the first error, missing node or Python 2 statement in
// source order.
func syntaxMessage(root *sitter.Node) string {
	var found string
	walk(root, func(n *sitter.Node) bool {
		if found != "" {
			return false
		}
		line := int(n.StartPoint().Row) + 1
		switch {
		case n.IsMissing():
			found = fmt.Sprintf("Syntax error: missing '%s' at line %d", n.Type(), line)
			return false
		case n.Type() == "ERROR" || python2Statements[n.Type()]:
			found = fmt.Sprintf("Syntax error: invalid syntax at line %d", line)
			return false
		}
		return true
	})
	return found
}

// walk visits nodes in source order. Returning false from fn skips the
// node's children.
func walk(root *sitter.Node, fn func(n *sitter.Node) bool) {
	if root == nil {
		return
	}
	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(n) {
			continue
		}
		for i := int(n.ChildCount()) - 1; i >= 0; i-- {
			if child := n.Child(i); child != nil {
				stack = append(stack, child)
			}
		}
	}
}

// Walk visits every node of the parsed code in source order.
func (s *Source) Walk(fn func(n *sitter.Node) bool) {
	walk(s.root, fn)
}

// Text returns the source text covered by n.
func (s *Source) Text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(s.src)
}
