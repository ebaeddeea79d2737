package config

import (
	"os"
	"strings"
)

// ExpandEnvVars replaces %NAME% placeholders with environment variable
// values. The placeholder match is case-insensitive but the value is
// substituted exactly as set. Replacement repeats until no placeholder for
// that variable remains.
func ExpandEnvVars(input string) string {
	if input == "" {
		return input
	}
	output := input
	outputUC := strings.ToUpper(input)
	for _, e := range os.Environ() {
		name, value, ok := strings.Cut(e, "=")
		if !ok {
			continue
		}
		k := "%" + strings.ToUpper(name) + "%"
		for {
			start := strings.Index(outputUC, k)
			if start < 0 {
				break
			}
			output = output[:start] + value + output[start+len(k):]
			outputUC = strings.ToUpper(output)
		}
	}
	return output
}
