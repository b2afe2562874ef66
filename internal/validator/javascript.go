package validator

import (
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// analyzeJavaScript walks a tree-sitter JavaScript tree against the
// JavaScript denylist.
func analyzeJavaScript(root *sitter.Node, src []byte) (bool, string) {
	accepted, reason := true, ""

	walk(root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "call_expression":
			fn := n.ChildByFieldName("function")
			if fn == nil {
				return true
			}
			if fn.Type() == "identifier" {
				name := fn.Content(src)
				if javascriptBlockedCalls[name] {
					accepted, reason = false, fmt.Sprintf("call to blocked operation %s()", name)
					return false
				}
				if name == "require" {
					if module, bad := blockedRequireArg(n, src); bad {
						accepted, reason = false, fmt.Sprintf("require of blocked module %s", module)
						return false
					}
				}
			}

		case "new_expression":
			ctor := n.ChildByFieldName("constructor")
			if ctor != nil && ctor.Type() == "identifier" && ctor.Content(src) == "Function" {
				accepted, reason = false, "use of the Function constructor is not allowed"
				return false
			}

		case "import_statement":
			source := n.ChildByFieldName("source")
			if source != nil {
				module := stripQuotes(source.Content(src))
				if isBlockedJSModule(module) {
					accepted, reason = false, fmt.Sprintf("import of blocked module %s", module)
					return false
				}
			}

		case "member_expression":
			text := n.Content(src)
			for _, pattern := range javascriptDangerousPatterns {
				if strings.Contains(text, pattern) {
					accepted, reason = false, fmt.Sprintf("access to %s is not allowed", pattern)
					return false
				}
			}
			prop := n.ChildByFieldName("property")
			if prop != nil && strings.Contains(prop.Content(src), "constructor") {
				accepted, reason = false, "constructor access is not allowed"
				return false
			}
			obj := n.ChildByFieldName("object")
			if obj != nil && obj.Type() == "identifier" && javascriptBlockedIdentifiers[obj.Content(src)] {
				accepted, reason = false, fmt.Sprintf("access to blocked identifier %s", obj.Content(src))
				return false
			}

		case "subscript_expression":
			index := n.ChildByFieldName("index")
			if index != nil && strings.Contains(index.Content(src), "constructor") {
				accepted, reason = false, "constructor access is not allowed"
				return false
			}

		case "identifier":
			// Standalone references only; member expressions are handled above.
			name := n.Content(src)
			parent := n.Parent()
			if parent != nil && parent.Type() != "member_expression" && javascriptBlockedIdentifiers[name] {
				accepted, reason = false, fmt.Sprintf("reference to blocked identifier %s", name)
				return false
			}
		}
		return true
	})

	return accepted, reason
}

// blockedRequireArg inspects a require() call's first argument.
func blockedRequireArg(call *sitter.Node, src []byte) (string, bool) {
	args := call.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() == 0 {
		return "", false
	}
	arg := args.NamedChild(0)
	if arg.Type() != "string" {
		// Dynamic require argument: cannot prove it safe, refuse it.
		return arg.Content(src), true
	}
	module := stripQuotes(arg.Content(src))
	return module, isBlockedJSModule(module)
}

func isBlockedJSModule(module string) bool {
	module = strings.TrimPrefix(module, "node:")
	if javascriptBlockedModules[module] {
		return true
	}
	for blocked := range javascriptBlockedModules {
		if strings.HasPrefix(module, blocked+"/") {
			return true
		}
	}
	return false
}

func stripQuotes(s string) string {
	return strings.Trim(s, "\"'`")
}
