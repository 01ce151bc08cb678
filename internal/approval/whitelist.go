// Package approval gates proposed tool invocations: whitelisted calls run
// immediately, the rest wait on a human decision routed through the approval
// handler collaborator.
package approval

import "strings"

// Matches reports whether toolName matches any whitelist pattern. Supported
// forms: an exact tool name, a namespace wildcard "server:*" matching any
// tool whose name starts with "server:", and the global wildcard "*".
func Matches(patterns []string, toolName string) bool {
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		if pattern == "*" {
			return true
		}
		if pattern == toolName {
			return true
		}
		if ns, ok := strings.CutSuffix(pattern, ":*"); ok {
			if strings.HasPrefix(toolName, ns+":") {
				return true
			}
		}
	}
	return false
}
