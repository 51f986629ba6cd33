package scheduling

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/fieldsvc/dispatchd/internal/model"
)

// foldTransformer strips diacritics, so "José" matches "jose".
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func foldName(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// filterByName keeps agents whose name contains the filter, compared
// case- and accent-insensitively. An empty filter keeps everyone.
func filterByName(agents []*model.Agent, filter string) []*model.Agent {
	if filter == "" {
		return agents
	}
	needle := foldName(filter)
	out := agents[:0:0]
	for _, agent := range agents {
		if strings.Contains(foldName(agent.Name), needle) {
			out = append(out, agent)
		}
	}
	return out
}
