package store

import (
	"regexp"
	"strings"
)

var mutationTableRe = regexp.MustCompile(`(?i)^\s*(INSERT\s+INTO|UPDATE|DELETE\s+FROM|CREATE\s+TABLE(?:\s+IF\s+NOT\s+EXISTS)?|DROP\s+TABLE(?:\s+IF\s+EXISTS)?|ALTER\s+TABLE)\s+([` + "`\"" + `]?)([a-zA-Z0-9_]+)`)

// isExtMutation reports whether query is a mutation targeting an ext_
// table. Non-mutation statements (SELECT, …) are rejected here too — the
// raw Execute escape hatch is for ext_ writes only, per §4.1.
func isExtMutation(query string) bool {
	m := mutationTableRe.FindStringSubmatch(query)
	if m == nil {
		return false
	}
	table := m[3]
	return strings.HasPrefix(strings.ToLower(table), "ext_")
}
