package scan

import (
	"fmt"
	"strconv"

	"astrokeep/internal/meta"
)

// Predicate matches a single attribute value. The concrete types cover the
// match modes a caller can ask for: exact string, numeric equality with
// coercion, or an arbitrary function.
type Predicate interface {
	matches(value string) (bool, error)
}

// Exact matches when the attribute equals the string exactly.
type Exact string

func (p Exact) matches(value string) (bool, error) {
	return value == string(p), nil
}

// IntEq matches when the attribute, parsed as a float and truncated to an
// integer, equals the target. "90.00" therefore matches IntEq(90). A value
// that does not parse is a non-match, not an error.
type IntEq int

func (p IntEq) matches(value string) (bool, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return false, nil
	}
	return int(f) == int(p), nil
}

// FloatEq matches when the attribute parses to exactly the target float.
// A value that does not parse is a non-match, not an error.
type FloatEq float64

func (p FloatEq) matches(value string) (bool, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return false, nil
	}
	return f == float64(p), nil
}

// Func matches with an arbitrary function. A panic inside the function is
// reported as a *FilterEvaluationError and aborts the whole filter pass.
type Func func(value string) bool

func (p Func) matches(value string) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &FilterEvaluationError{Value: value, Cause: r}
		}
	}()
	return p(value), nil
}

// InvalidFilterError reports an unusable filter set.
type InvalidFilterError struct {
	Reason string
}

func (e *InvalidFilterError) Error() string {
	return fmt.Sprintf("invalid filter data: %s", e.Reason)
}

// FilterEvaluationError reports a predicate function that blew up on a value.
type FilterEvaluationError struct {
	Key   string
	Value string
	Cause any
}

func (e *FilterEvaluationError) Error() string {
	return fmt.Sprintf("failed to evaluate filter '%s' with argument '%s': %v", e.Key, e.Value, e.Cause)
}

// Filter returns the entries of data whose attributes satisfy every
// predicate. A predicate whose key is absent from a datum is satisfied
// vacuously; an empty or nil filter set is rejected.
func Filter(data map[string]meta.Attrs, filters map[string]Predicate) (map[string]meta.Attrs, error) {
	if len(filters) == 0 {
		return nil, &InvalidFilterError{Reason: "no filters given"}
	}
	for key, pred := range filters {
		if pred == nil {
			return nil, &InvalidFilterError{Reason: fmt.Sprintf("filter key '%s' has no value", key)}
		}
	}

	output := make(map[string]meta.Attrs)
	for filename, datum := range data {
		match := true
		for key, pred := range filters {
			value, ok := datum[key]
			if !ok {
				continue
			}
			m, err := pred.matches(value)
			if err != nil {
				if fe, isEval := err.(*FilterEvaluationError); isEval {
					fe.Key = key
				}
				return nil, err
			}
			if !m {
				match = false
				break
			}
		}
		if match {
			output[filename] = datum
		}
	}
	return output, nil
}
