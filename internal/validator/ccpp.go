package validator

import (
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// analyzeC walks a tree-sitter C or C++ tree against the C denylist.
// The same analyzer serves both languages; the node kinds it inspects are
// shared between the two grammars.
func analyzeC(root *sitter.Node, src []byte) (bool, string) {
	accepted, reason := true, ""

	walk(root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "preproc_include":
			path := n.ChildByFieldName("path")
			if path == nil {
				return true
			}
			header := strings.Trim(path.Content(src), `"<>`)
			for _, blocked := range cBlockedHeaders {
				if strings.HasPrefix(header, blocked) {
					accepted, reason = false, fmt.Sprintf("include of blocked header %s", header)
					return false
				}
			}

		case "call_expression":
			fn := n.ChildByFieldName("function")
			if fn == nil {
				return true
			}
			name := callName(fn, src)
			if cBlockedFunctions[name] {
				accepted, reason = false, fmt.Sprintf("call to blocked function %s()", name)
				return false
			}
			if name == "mmap" && strings.Contains(argText(n, src), "PROT_EXEC") {
				accepted, reason = false, "call to mmap() with an executable mapping"
				return false
			}
		}
		return true
	})

	return accepted, reason
}

// callName extracts the bare function name from a call target, stripping
// any std:: style qualification.
func callName(fn *sitter.Node, src []byte) string {
	text := fn.Content(src)
	if i := strings.LastIndex(text, "::"); i >= 0 {
		text = text[i+2:]
	}
	return text
}

func argText(call *sitter.Node, src []byte) string {
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return ""
	}
	return args.Content(src)
}
