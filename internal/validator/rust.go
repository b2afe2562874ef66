package validator

import (
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// analyzeRust walks a tree-sitter Rust tree against the Rust denylist.
func analyzeRust(root *sitter.Node, src []byte) (bool, string) {
	accepted, reason := true, ""

	walk(root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "unsafe_block":
			accepted, reason = false, "unsafe blocks are not allowed"
			return false

		case "foreign_mod_item":
			accepted, reason = false, "extern blocks are not allowed"
			return false

		case "use_declaration", "scoped_identifier", "scoped_use_list":
			text := n.Content(src)
			for _, blocked := range rustBlockedPaths {
				if strings.Contains(text, blocked) {
					accepted, reason = false, fmt.Sprintf("use of blocked path %s", blocked)
					return false
				}
			}

		case "macro_invocation":
			macro := n.ChildByFieldName("macro")
			if macro != nil {
				name := macro.Content(src)
				if name == "asm" || name == "global_asm" {
					accepted, reason = false, fmt.Sprintf("inline assembly via %s! is not allowed", name)
					return false
				}
			}

		case "attribute_item":
			text := n.Content(src)
			if strings.Contains(text, "no_mangle") || strings.Contains(text, "link(") ||
				strings.Contains(text, "link_section") {
				accepted, reason = false, "FFI attributes are not allowed"
				return false
			}
		}
		return true
	})

	return accepted, reason
}
