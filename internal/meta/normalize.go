package meta

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Attrs is a canonical attribute mapping for one file. Keys are lowercase
// canonical names; values are normalized strings. An attribute that is
// absent or empty is considered missing.
type Attrs map[string]string

const (
	inputFormatDateTime  = "2006-01-02T15:04:05"
	outputFormatDate     = "2006-01-02"
	outputFormatDateTime = "2006-01-02_15-04-05"

	// Acquisition-timezone shift applied when deriving the session date
	// from DATE-OBS. Hardcoded for UTC-recorded data captured stateside.
	dateObsOffset = -16 * time.Hour
)

// conversion maps one source header to one canonical attribute.
type conversion struct {
	target  string
	convert func(string) (string, error)
}

type headerConversion struct {
	source  string
	targets []conversion
}

// headerConversions is the full source-header normalization table. Order
// matters: DenormalizeHeader returns the first source whose primary target
// matches, so the preferred source for each canonical key comes first.
var headerConversions = []headerConversion{
	{"DATE-OBS", []conversion{{"date", normalizeDate}, {"datetime", normalizeDateTime}}},
	{"FILTER", []conversion{{"filter", asFilterName}}},
	{"EXPOSURE", []conversion{{"exposureseconds", twoDecimal}}}, // preferred key for exposureseconds
	{"EXPTIME", []conversion{{"exposureseconds", twoDecimal}}},
	{"EXP", []conversion{{"exposureseconds", twoDecimal}}},
	{"CCD-TEMP", []conversion{{"temp", twoDecimal}}},
	{"SETTEMP", []conversion{{"settemp", twoDecimal}}}, // preferred key for settemp
	{"SET-TEMP", []conversion{{"settemp", twoDecimal}}},
	{"IMAGETYP", []conversion{{"type", upper}}},
	{"TELESCOP", []conversion{{"optic", identity}}},
	{"FOCRATIO", []conversion{{"focal_ratio", identity}}},
	{"INSTRUME", []conversion{{"camera", identity}}},
	{"OBJECT", []conversion{{"targetname", identity}}},
	{"SITELAT", []conversion{{"latitude", oneDecimal}}}, // preferred key for latitude
	{"OBSGEO-B", []conversion{{"latitude", oneDecimal}}},
	{"SITELONG", []conversion{{"longitude", oneDecimal}}}, // preferred key for longitude
	{"OBSGEO-L", []conversion{{"longitude", oneDecimal}}},
	{"READOUTM", []conversion{{"readoutmode", identity}}},
	// Literal filename tokens written by smart telescopes,
	// e.g. M 42_15s60_Astro_20250413-193110677_27C.fits
	{"astro", []conversion{{"filter", constant("Astro")}}},
	{"duo-band", []conversion{{"filter", constant("Duo-Band")}}},
}

var headerConversionIndex = func() map[string][]conversion {
	idx := make(map[string][]conversion, len(headerConversions))
	for _, hc := range headerConversions {
		idx[hc.source] = hc.targets
	}
	return idx
}()

// constantNormalizations injects attributes implied by another canonical
// attribute's value, never overwriting anything already present.
var constantNormalizations = []struct {
	key, value string
	inject     [][2]string
}{
	{"camera", "DWARFIII", [][2]string{{"focal_ratio", "4.3"}, {"type", "LIGHT"}}},
}

// Normalize converts a raw header mapping into canonical attributes.
// Recognized source keys (matched case-sensitively) run through their
// conversion table; everything else is stored under its lowercased key.
// Keys are applied in sorted order, so lowercase canonical keys overwrite
// values converted from uppercase source keys; this is what gives
// filename-derived attributes priority in pre-merged maps.
func Normalize(input map[string]string) (Attrs, error) {
	output := make(Attrs, len(input))

	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := input[key]
		if targets, ok := headerConversionIndex[key]; ok {
			for _, c := range targets {
				converted, err := c.convert(value)
				if err != nil {
					return nil, &ParseError{Key: key, Value: value, Err: err}
				}
				output[c.target] = converted
			}
		} else {
			output[strings.ToLower(key)] = value
		}
	}

	// Strip the panel out of the target name.
	if _, ok := output["panel"]; !ok && output["targetname"] != "" {
		target, panel := NormalizeTargetName(output["targetname"])
		output["targetname"] = target
		output["panel"] = panel
	}

	for _, cn := range constantNormalizations {
		if output[cn.key] != cn.value {
			continue
		}
		for _, kv := range cn.inject {
			if _, ok := output[kv[0]]; !ok {
				output[kv[0]] = kv[1]
			}
		}
	}

	return output, nil
}

var panelRE = regexp.MustCompile(`^(.*) Panel (.*)$`)

// NormalizeTargetName splits a target name into target and panel (panel is
// empty when the name has none). Single quotes are stripped from the target
// either way.
func NormalizeTargetName(input string) (target, panel string) {
	target = input
	if m := panelRE.FindStringSubmatch(input); m != nil {
		target = m[1]
		panel = m[2]
	}
	target = strings.ReplaceAll(target, "'", "")
	return target, panel
}

// NormalizeFilterName maps vendor filter names to their short forms.
func NormalizeFilterName(name string) string {
	switch name {
	case "BaaderUVIRCut":
		return "UVIR"
	case "OptolongLeXtreme":
		return "LeXtr"
	case "S2":
		return "S"
	case "Ha":
		return "H"
	case "O3":
		return "O"
	case "":
		return "RGB"
	}
	return name
}

// DenormalizeHeader converts a canonical attribute name back to its
// preferred source header form, or "" if it has none.
func DenormalizeHeader(canonical string) string {
	for _, hc := range headerConversions {
		if hc.targets[0].target == canonical {
			return hc.source
		}
	}
	return ""
}

func normalizeDate(value string) (string, error) {
	t, err := parseDateObs(value)
	if err != nil {
		return "", err
	}
	return t.Add(dateObsOffset).Format(outputFormatDate), nil
}

func normalizeDateTime(value string) (string, error) {
	t, err := parseDateObs(value)
	if err != nil {
		return "", err
	}
	return t.Format(outputFormatDateTime), nil
}

// parseDateObs trims the fractional seconds (last 4 characters) before
// parsing, matching the writer's fixed millisecond precision.
func parseDateObs(value string) (time.Time, error) {
	if len(value) <= 4 {
		return time.Time{}, fmt.Errorf("value too short for a DATE-OBS timestamp")
	}
	return time.Parse(inputFormatDateTime, value[:len(value)-4])
}

func asFilterName(value string) (string, error) {
	return NormalizeFilterName(value), nil
}

func twoDecimal(value string) (string, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%.2f", f), nil
}

func oneDecimal(value string) (string, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%.1f", f), nil
}

func upper(value string) (string, error) {
	return strings.ToUpper(value), nil
}

func identity(value string) (string, error) {
	return value, nil
}

func constant(v string) func(string) (string, error) {
	return func(string) (string, error) { return v, nil }
}
