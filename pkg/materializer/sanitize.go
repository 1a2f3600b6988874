package materializer

import (
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/inkton/nester-develop/pkg/topology"
)

// newASCIIFolder strips accents and drops whatever is still not ASCII. The
// debugger pipe transport mangles non-ASCII environment values.
func newASCIIFolder() transform.Transformer {
	return transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
		runes.Remove(runes.Predicate(func(r rune) bool { return r > unicode.MaxASCII })),
	)
}

// FoldASCII returns s with accents stripped and non-ASCII runes removed
func FoldASCII(s string) string {
	out, _, err := transform.String(newASCIIFolder(), s)
	if err != nil {
		return s
	}
	return out
}

// SanitizeEnvironment returns a copy of env with every value folded to
// ASCII. The descriptor keeps its values; paths in it must stay intact.
func SanitizeEnvironment(env topology.Environment) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = FoldASCII(v)
	}
	return out
}
