package fits

import (
	"bytes"
	"fmt"
	"testing"
)

func record(s string) []byte {
	return []byte(fmt.Sprintf("%-80s", s))
}

func headerBlock(cards ...string) []byte {
	var buf bytes.Buffer
	for _, c := range cards {
		buf.Write(record(c))
	}
	buf.Write(record("END"))
	for buf.Len()%2880 != 0 {
		buf.Write(record(""))
	}
	return buf.Bytes()
}

func TestReadHeadersParsesCards(t *testing.T) {
	block := headerBlock(
		"SIMPLE  =                    T",
		"BITPIX  =                   16 / bits per pixel",
		"INSTRUME= 'ZWOASI2600'",
		"EXPOSURE=                 60.0",
		"IMAGETYP= 'LIGHT   '",
		"CCD-TEMP=                -9.98",
	)

	headers, err := readHeaders(bytes.NewReader(block))
	if err != nil {
		t.Fatalf("readHeaders: %v", err)
	}

	want := map[string]string{
		"SIMPLE":   "True",
		"BITPIX":   "16",
		"INSTRUME": "ZWOASI2600",
		"EXPOSURE": "60.0",
		"IMAGETYP": "LIGHT",
		"CCD-TEMP": "-9.98",
	}
	for k, v := range want {
		if headers[k] != v {
			t.Fatalf("header %s = %q, want %q", k, headers[k], v)
		}
	}
}

func TestReadHeadersMultipleBlocks(t *testing.T) {
	// More than 36 cards forces the header across two 2880-byte blocks.
	var cards []string
	for i := 0; i < 40; i++ {
		cards = append(cards, fmt.Sprintf("KEY%-5d=%21d", i, i))
	}
	block := headerBlock(cards...)
	if len(block) < 2*2880 {
		t.Fatalf("fixture should span two blocks, got %d bytes", len(block))
	}

	headers, err := readHeaders(bytes.NewReader(block))
	if err != nil {
		t.Fatalf("readHeaders: %v", err)
	}
	if headers["KEY39"] != "39" {
		t.Fatalf("KEY39 = %q, want %q", headers["KEY39"], "39")
	}
}

func TestReadHeadersTruncated(t *testing.T) {
	_, err := readHeaders(bytes.NewReader([]byte("SIMPLE")))
	if err == nil {
		t.Fatal("expected error for truncated header")
	}
}

func TestParseValueQuoted(t *testing.T) {
	if got := parseValue("'M 42    '"); got != "M 42" {
		t.Fatalf("parseValue quoted = %q", got)
	}
	if got := parseValue("-78.8"); got != "-78.8" {
		t.Fatalf("parseValue numeric = %q", got)
	}
}
