// Package validator rejects source snippets that reference disallowed
// operations before any subprocess is spawned.
//
// Each language analyzer parses the source to a syntax tree and walks it
// against a denylist. A denylist is used rather than an allowlist because
// allowlisting the useful subset of each language is prohibitively large.
// This is a first-line filter only: matching is syntactic, a rename to a
// local binding bypasses it, and the sandbox is the real security boundary.
// Operators must not treat the validator as the sole defense.
package validator

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	tsc "github.com/smacker/go-tree-sitter/c"
	tscpp "github.com/smacker/go-tree-sitter/cpp"
	tsjavascript "github.com/smacker/go-tree-sitter/javascript"
	tspython "github.com/smacker/go-tree-sitter/python"
	tsrust "github.com/smacker/go-tree-sitter/rust"

	"github.com/codrhq/codr/internal/protocol"
)

// analyzer inspects a parsed tree for one language.
type analyzer func(root *sitter.Node, src []byte) (bool, string)

// Validate approves or rejects a source snippet for the given language.
// It is a pure function of (language, source): no I/O, deterministic, and
// it never panics on malformed input. The returned reason is a short
// sentence naming the offending construct.
func Validate(language protocol.Language, source string) (accepted bool, reason string) {
	var lang *sitter.Language
	var analyze analyzer

	switch language {
	case protocol.LangPython:
		lang, analyze = tspython.GetLanguage(), analyzePython
	case protocol.LangJavaScript:
		lang, analyze = tsjavascript.GetLanguage(), analyzeJavaScript
	case protocol.LangC:
		lang, analyze = tsc.GetLanguage(), analyzeC
	case protocol.LangCPP:
		lang, analyze = tscpp.GetLanguage(), analyzeC
	case protocol.LangRust:
		lang, analyze = tsrust.GetLanguage(), analyzeRust
	default:
		return false, "unsupported language"
	}

	src := []byte(source)
	if len(src) == 0 {
		return false, "source is empty"
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return false, "syntax error at line 1"
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return false, fmt.Sprintf("syntax error at line %d", firstErrorLine(root))
	}

	return analyze(root, src)
}

// walk traverses the tree depth-first, calling fn on every node. fn returns
// false to stop the traversal.
func walk(node *sitter.Node, fn func(*sitter.Node) bool) bool {
	if !fn(node) {
		return false
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if !walk(node.Child(i), fn) {
			return false
		}
	}
	return true
}

// firstErrorLine locates the first error or missing node, 1-based.
func firstErrorLine(root *sitter.Node) int {
	line := int(root.StartPoint().Row) + 1
	walk(root, func(n *sitter.Node) bool {
		if n.Type() == "ERROR" || n.IsMissing() {
			line = int(n.StartPoint().Row) + 1
			return false
		}
		return true
	})
	return line
}
