package meta

import (
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"astrokeep/internal/config"
)

// profileSegmentRE matches a path segment of the form <optic>@f<ratio>+<camera>
// followed by a separator. A profile segment at the very end of a path is
// deliberately not matched.
var profileSegmentRE = regexp.MustCompile(`(.*/)([^@]*)@f([^+]*)\+([^/]*)(/.*)`)

// ExtractPathTokens parses a file path into raw key/value tokens.
//
// Segments are split on '_' and every adjacent (key, value) pair with a
// non-numeric key is recorded, first occurrence wins. Sub-tokens containing
// '-' are additionally split at the first dash. When profileFromPath is set,
// a vendor profile segment (<optic>@f<ratio>+<camera>) is rewritten into
// TELESCOP/FOCRATIO/INSTRUME tokens; when objectFromPath is set, the parent
// of an "accept" directory is exposed as an OBJECT token.
//
// The returned map always carries "filename" holding the original path.
func ExtractPathTokens(p string, profileFromPath, objectFromPath bool) map[string]string {
	output := map[string]string{
		"filename": p, // before any name manipulations
	}

	name := filepath.ToSlash(p)

	// SET-TEMP is a key with a dash in it; the dash is a token-splitting
	// hazard, so remove it before parsing and add it back after.
	name = strings.ReplaceAll(name, "SET-TEMP", "SETTEMP")

	if objectFromPath && strings.Contains(name, config.DirAccept) {
		name = injectObjectSegment(name)
	}

	if profileFromPath {
		if m := profileSegmentRE.FindStringSubmatch(name); m != nil {
			name = m[1] + "TELESCOP_" + m[2] + "_FOCRATIO_" + m[3] + "_INSTRUME_" + m[4] + m[5]
		}
	}

	// Grab everything from the path itself that could be a key/value pair.
	base := strings.TrimSuffix(name, path.Ext(name))
	for _, chunk := range strings.Split(base, "/") {
		parts := strings.Split(chunk, "_")
		for i := 1; i < len(parts); i++ {
			k, v := parts[i-1], parts[i]
			if !isNumeric(k) {
				if _, ok := output[k]; !ok {
					output[k] = v
				}
			}
		}
		for _, x := range parts {
			if k, v, ok := strings.Cut(x, "-"); ok {
				if !isNumeric(k) {
					if _, present := output[k]; !present {
						output[k] = v
					}
				}
			}
		}
	}

	// Raw camera files carry no TYPE token; they are always light frames.
	if strings.HasSuffix(name, ".cr2") {
		if _, ok := output["TYPE"]; !ok {
			output["TYPE"] = "LIGHT"
		}
	}

	// Re-expose SETTEMP under its dashed source name.
	if v, ok := output["SETTEMP"]; ok {
		output["SET-TEMP"] = v
	}

	// EXPOSURE values may carry an "s" unit suffix since Dec 2023.
	if v, ok := output["EXPOSURE"]; ok && strings.Contains(v, "s") {
		output["EXPOSURE"] = strings.ReplaceAll(v, "s", "")
	}

	return output
}

// FileHeaders extracts and normalizes the attributes carried by a file's
// path alone. The file itself is never opened.
func FileHeaders(p string, profileFromPath bool) (Attrs, error) {
	return Normalize(ExtractPathTokens(p, profileFromPath, true))
}

// injectObjectSegment rewrites ".../<dir>/accept/..." so that <dir> becomes
// an OBJECT_<dir> token for the generic tokenizer.
func injectObjectSegment(name string) string {
	segments := strings.Split(name, "/")
	rewritten := make([]string, 0, len(segments))
	for i := 0; i < len(segments)-1; i++ {
		if segments[i+1] == config.DirAccept {
			rewritten = append(rewritten, "OBJECT_"+segments[i])
		} else {
			rewritten = append(rewritten, segments[i])
		}
	}
	rewritten = append(rewritten, segments[len(segments)-1])
	return strings.Join(rewritten, "/")
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
