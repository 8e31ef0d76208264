package secret

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
)

// bracedVarPattern matches ${VAR} references. Only the braced form is
// strict; bare $VAR keeps shell semantics and expands to "" when unset.
var bracedVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnvStrict expands environment variables in s.
//
// Semantics:
//   - `$VAR` and `${VAR}` expand from the environment.
//   - `${VAR}` errors when VAR is unset; the error names every unset
//     variable so a config with several gaps fails once, not field by field.
//   - `$$` emits a literal `$`.
func ExpandEnvStrict(s string) (string, error) {
	if missing := missingBracedVars(s); len(missing) > 0 {
		return "", fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	return os.Expand(s, func(name string) string {
		// os.Expand reports `$$` as the special variable "$".
		if name == "$" {
			return "$"
		}
		return os.Getenv(name)
	}), nil
}

// missingBracedVars returns the sorted, deduplicated names of ${VAR}
// references that are unset in the environment.
func missingBracedVars(s string) []string {
	// Blank out escapes first so `$${VAR}` is not read as a reference.
	s = strings.ReplaceAll(s, "$$", "\x00")

	var missing []string
	for _, match := range bracedVarPattern.FindAllStringSubmatch(s, -1) {
		if _, ok := os.LookupEnv(match[1]); !ok {
			missing = append(missing, match[1])
		}
	}
	slices.Sort(missing)
	return slices.Compact(missing)
}
