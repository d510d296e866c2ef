package hint

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// token pairs a lower-case substring with the value reported on a match.
type token struct {
	match     string
	canonical string
}

var makeAliases = map[string]string{
	"chevy": "Chevrolet",
	"vw":    "Volkswagen",
}

var makes = buildTokens(normalizeMake,
	"chevrolet", "chevy", "ford", "dodge", "gmc", "toyota", "honda",
	"bmw", "mercedes", "porsche", "ferrari", "lamborghini", "audi",
	"volkswagen", "vw", "jeep", "ram", "nissan", "mazda", "subaru",
)

var models = buildTokens(strings.ToUpper,
	"c10", "c20", "k10", "k20", "k5", "blazer", "suburban", "silverado",
	"mustang", "f150", "f-150", "camaro", "corvette", "challenger",
	"charger", "911", "944", "carrera", "civic", "accord", "tacoma",
	"4runner", "wrangler", "bronco",
)

func buildTokens(canon func(string) string, names ...string) []token {
	out := make([]token, 0, len(names))
	for _, n := range names {
		out = append(out, token{match: n, canonical: canon(n)})
	}
	return out
}

// normalizeMake maps a make token to its display form: aliases resolve to the
// full manufacturer name, everything else gets a leading capital.
func normalizeMake(name string) string {
	if canonical, ok := makeAliases[name]; ok {
		return canonical
	}
	return cases.Title(language.Und).String(name)
}
