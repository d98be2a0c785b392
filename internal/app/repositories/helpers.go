package repositories

import (
	"fmt"
	"strings"
)

func joinColumns(columns []string) string {
	return strings.Join(columns, ", ")
}

func prefixColumns(alias string, columns []string) []string {
	prefixed := make([]string, len(columns))
	for i, c := range columns {
		prefixed[i] = alias + "." + c
	}
	return prefixed
}

// pairKey is the canonical identity of a PRIVATE chat between two profiles
func pairKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}
