package secret

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

var bracedVar = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnvStrict expands $NAME and ${NAME} in s. Every braced variable must
// be set, and $$ produces a literal dollar sign.
func ExpandEnvStrict(s string) (string, error) {
	const dollar = "\x00querycache-dollar\x00"
	s = strings.ReplaceAll(s, "$$", dollar)

	var missing []string
	seen := make(map[string]bool)
	for _, m := range bracedVar.FindAllStringSubmatch(s, -1) {
		name := m[1]
		if _, ok := os.LookupEnv(name); !ok && !seen[name] {
			seen[name] = true
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
	}

	return strings.ReplaceAll(os.ExpandEnv(s), dollar, "$"), nil
}
