package meta

import "fmt"

// ParseError reports a header value that could not be converted to its
// canonical form. Fatal for the file being processed.
type ParseError struct {
	Key   string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse header %s value %q: %v", e.Key, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// MissingRequiredHeaderError reports an absent mandatory canonical attribute
// during filename composition.
type MissingRequiredHeaderError struct {
	Header   string
	Filename string
}

func (e *MissingRequiredHeaderError) Error() string {
	return fmt.Sprintf("missing required header '%s' for file: %s", e.Header, e.Filename)
}
