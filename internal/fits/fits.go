// Package fits reads the primary header of FITS container files.
//
// Only header records are consumed; pixel data is never loaded. Values are
// returned as strings because downstream normalization treats every header
// as a string token.
package fits

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	recordLen       = 80
	recordsPerBlock = 36
)

// ReadHeaders reads the primary-header key/value pairs from the FITS file at
// path. Boolean values are stringified as "True"/"False", quoted strings are
// unquoted and right-trimmed, and inline comments after '/' are dropped.
func ReadHeaders(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening FITS file: %w", err)
	}
	defer f.Close()
	return readHeaders(f)
}

func readHeaders(r io.Reader) (map[string]string, error) {
	headers := make(map[string]string)
	recordBuf := make([]byte, recordLen)

	for {
		sawEnd := false
		for i := 0; i < recordsPerBlock; i++ {
			if _, err := io.ReadFull(r, recordBuf); err != nil {
				return nil, fmt.Errorf("reading FITS header record: %w", err)
			}
			record := string(recordBuf)
			keyword := strings.TrimSpace(record[:8])

			if keyword == "END" {
				sawEnd = true
				break
			}

			if len(record) > 10 && record[8] == '=' && record[9] == ' ' {
				rawValue := strings.TrimSpace(strings.SplitN(record[10:], "/", 2)[0])
				value := parseValue(rawValue)
				if keyword != "" && value != "" {
					headers[keyword] = value
				}
			}
		}
		if sawEnd {
			return headers, nil
		}
	}
}

func parseValue(rawValue string) string {
	if rawValue == "" {
		return ""
	}
	if rawValue == "T" {
		return "True"
	}
	if rawValue == "F" {
		return "False"
	}
	if strings.HasPrefix(rawValue, "'") {
		endQuote := strings.LastIndex(rawValue, "'")
		if endQuote > 0 {
			return strings.TrimRight(rawValue[1:endQuote], " ")
		}
		return strings.TrimLeft(strings.TrimRight(rawValue, " "), "'")
	}
	return rawValue
}
