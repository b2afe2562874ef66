package validator

import (
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// analyzePython walks a tree-sitter Python tree against the Python denylist.
func analyzePython(root *sitter.Node, src []byte) (bool, string) {
	accepted, reason := true, ""

	walk(root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "call":
			fn := n.ChildByFieldName("function")
			if fn == nil {
				return true
			}
			switch fn.Type() {
			case "identifier":
				name := fn.Content(src)
				if name == "open" {
					if mode, bad := pythonOpenWriteMode(n, src); bad {
						accepted, reason = false, fmt.Sprintf("call to open() with write mode %q is not allowed", mode)
						return false
					}
					return true
				}
				if pythonBlockedOperations[name] {
					accepted, reason = false, fmt.Sprintf("call to blocked operation %s()", name)
					return false
				}
			case "attribute":
				attr := fn.ChildByFieldName("attribute")
				if attr != nil && isDunder(attr.Content(src)) && !pythonSafeDunders[attr.Content(src)] {
					accepted, reason = false, fmt.Sprintf("call to dunder method %s()", attr.Content(src))
					return false
				}
			}

		case "import_statement":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				child := n.NamedChild(i)
				name := child
				if child.Type() == "aliased_import" {
					name = child.ChildByFieldName("name")
				}
				if name == nil {
					continue
				}
				module := rootModule(name.Content(src))
				if pythonBlockedModules[module] {
					accepted, reason = false, fmt.Sprintf("import of blocked module %s", module)
					return false
				}
			}

		case "import_from_statement":
			mod := n.ChildByFieldName("module_name")
			if mod != nil {
				module := rootModule(mod.Content(src))
				if pythonBlockedModules[module] {
					accepted, reason = false, fmt.Sprintf("import of blocked module %s", module)
					return false
				}
			}

		case "attribute":
			obj := n.ChildByFieldName("object")
			attr := n.ChildByFieldName("attribute")
			if obj != nil && obj.Type() == "identifier" {
				name := obj.Content(src)
				// Attribute chains beginning with a blocked module are denied
				// even without an import in this snippet.
				if pythonBlockedModules[name] {
					accepted, reason = false, fmt.Sprintf("access to blocked module %s", name)
					return false
				}
				if isDunder(name) {
					accepted, reason = false, fmt.Sprintf("access to dunder variable %s", name)
					return false
				}
			}
			if attr != nil && isDunder(attr.Content(src)) && !pythonSafeDunders[attr.Content(src)] {
				accepted, reason = false, fmt.Sprintf("access to restricted attribute %s", attr.Content(src))
				return false
			}

		case "subscript":
			val := n.ChildByFieldName("value")
			if val != nil && val.Type() == "identifier" && isDunder(val.Content(src)) {
				accepted, reason = false, fmt.Sprintf("subscript access to dunder variable %s", val.Content(src))
				return false
			}

		case "identifier":
			// Bare references to loaders can bypass the call checks, e.g.
			// f = compile; f(...).
			name := n.Content(src)
			if name == "compile" || name == "__import__" || name == "__builtins__" {
				accepted, reason = false, fmt.Sprintf("reference to blocked name %s", name)
				return false
			}
		}
		return true
	})

	return accepted, reason
}

// pythonOpenWriteMode inspects an open() call and reports the mode string
// when it requests writing. Reads are allowed; the sandbox makes them
// harmless.
func pythonOpenWriteMode(call *sitter.Node, src []byte) (string, bool) {
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return "", false
	}

	var mode *sitter.Node
	positional := 0
	for i := 0; i < int(args.NamedChildCount()); i++ {
		arg := args.NamedChild(i)
		if arg.Type() == "keyword_argument" {
			name := arg.ChildByFieldName("name")
			if name != nil && name.Content(src) == "mode" {
				mode = arg.ChildByFieldName("value")
			}
			continue
		}
		positional++
		if positional == 2 {
			mode = arg
		}
	}
	if mode == nil {
		return "", false
	}

	text := strings.Trim(mode.Content(src), `"'`)
	if strings.ContainsAny(text, "wax+") {
		return text, true
	}
	return "", false
}

func rootModule(dotted string) string {
	if i := strings.IndexByte(dotted, '.'); i >= 0 {
		return dotted[:i]
	}
	return dotted
}

func isDunder(name string) bool {
	return strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__")
}
