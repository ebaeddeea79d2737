// Package xisf reads the metadata block of XISF container files.
//
// An XISF monolithic file starts with an 8-byte signature ("XISF0100"), a
// 4-byte little-endian header length, 4 reserved bytes, and then an XML
// header of that length. The XML carries the image elements with their
// embedded FITSKeyword records; attached pixel blocks are never read.
package xisf

import (
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"
)

const signature = "XISF0100"

// Keyword is one FITSKeyword record attached to an image.
type Keyword struct {
	Value   string
	Comment string
}

type xmlKeyword struct {
	Name    string `xml:"name,attr"`
	Value   string `xml:"value,attr"`
	Comment string `xml:"comment,attr"`
}

type xmlImage struct {
	Keywords []xmlKeyword `xml:"FITSKeyword"`
}

type xmlHeader struct {
	Images []xmlImage `xml:"Image"`
}

// ReadImageKeywords returns the FITS keywords embedded in the first image of
// the XISF file at path. Repeated keywords keep document order, first entry
// first.
func ReadImageKeywords(path string) (map[string][]Keyword, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening XISF file: %w", err)
	}
	defer f.Close()
	return readImageKeywords(f)
}

func readImageKeywords(r io.Reader) (map[string][]Keyword, error) {
	sig := make([]byte, 8)
	if _, err := io.ReadFull(r, sig); err != nil {
		return nil, fmt.Errorf("reading XISF signature: %w", err)
	}
	if string(sig) != signature {
		return nil, fmt.Errorf("not an XISF file: signature %q", sig)
	}

	var lengths [8]byte // header length + reserved
	if _, err := io.ReadFull(r, lengths[:]); err != nil {
		return nil, fmt.Errorf("reading XISF header length: %w", err)
	}
	headerLen := binary.LittleEndian.Uint32(lengths[:4])

	headerXML := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerXML); err != nil {
		return nil, fmt.Errorf("reading XISF header: %w", err)
	}

	var header xmlHeader
	if err := xml.Unmarshal(headerXML, &header); err != nil {
		return nil, fmt.Errorf("parsing XISF header: %w", err)
	}
	if len(header.Images) == 0 {
		return nil, fmt.Errorf("XISF header contains no image")
	}

	keywords := make(map[string][]Keyword)
	for _, kw := range header.Images[0].Keywords {
		keywords[kw.Name] = append(keywords[kw.Name], Keyword{Value: unquote(kw.Value), Comment: kw.Comment})
	}
	return keywords, nil
}

// unquote strips the FITS-style single-quote serialization some writers keep
// in the value attribute ('MASTER DARK' -> MASTER DARK).
func unquote(v string) string {
	if len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'' {
		return strings.TrimRight(v[1:len(v)-1], " ")
	}
	return strings.TrimSpace(v)
}
