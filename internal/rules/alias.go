package rules

import (
	"strings"

	"github.com/mattjoyce/cliprun/internal/config"
)

// Aliases holds the two indirection tables applied before compilation.
type Aliases struct {
	Patterns config.AliasTable
	Programs config.AliasTable
}

// Substitute replaces an alias key at the start of value with its expansion.
// The first key in table order that prefixes value wins and only that one
// occurrence is replaced; with no match value is returned unchanged.
func Substitute(value string, table config.AliasTable) string {
	for _, a := range table {
		if a.Key == "" {
			continue
		}
		if strings.HasPrefix(value, a.Key) {
			return a.Value + value[len(a.Key):]
		}
	}
	return value
}
