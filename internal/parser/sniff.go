package parser

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Dialect describes how a delimited feed is written: the column delimiter,
// the field enclosure character, and the text encoding of the file.
type Dialect struct {
	Delimiter rune
	Enclosure rune
	Encoding  encoding.Encoding
	// EncodingName is the label reported to the operator.
	EncodingName string
}

// delimiterCandidates are tried in priority order; ties on column count go to
// the earlier candidate.
var delimiterCandidates = []rune{',', ';', '\t', '|'}

// enclosureCandidates are scanned in priority order; the first one present
// anywhere in the sample wins.
var enclosureCandidates = []rune{'"', '\''}

const sniffSampleLines = 10
const sniffSampleBytes = 64 * 1024

// DefaultDialect is the guess used when the file cannot be inspected at all.
// Downstream parsing surfaces errors if the guess was wrong.
func DefaultDialect() Dialect {
	return Dialect{
		Delimiter:    ',',
		Enclosure:    '"',
		Encoding:     unicode.UTF8,
		EncodingName: "utf-8",
	}
}

// Sniff inspects a small sample of a delimited file and infers its dialect.
// It never fails: an unreadable file yields DefaultDialect.
func Sniff(path string) Dialect {
	f, err := os.Open(path)
	if err != nil {
		return DefaultDialect()
	}
	defer f.Close()

	sample := make([]byte, sniffSampleBytes)
	n, _ := io.ReadFull(f, sample)
	sample = sample[:n]
	if len(sample) == 0 {
		return DefaultDialect()
	}

	enc, encName := detectEncoding(sample)

	decoded := decodeSample(sample, enc)
	lines := sampleLines(decoded, sniffSampleLines)

	return Dialect{
		Delimiter:    detectDelimiter(lines),
		Enclosure:    detectEnclosure(lines),
		Encoding:     enc,
		EncodingName: encName,
	}
}

// detectDelimiter picks the candidate that yields the largest column count
// across the sampled lines.
func detectDelimiter(lines []string) rune {
	best := delimiterCandidates[0]
	bestCount := 0
	for _, cand := range delimiterCandidates {
		max := 0
		for _, line := range lines {
			if n := strings.Count(line, string(cand)) + 1; n > max {
				max = n
			}
		}
		if max > bestCount {
			best = cand
			bestCount = max
		}
	}
	return best
}

func detectEnclosure(lines []string) rune {
	joined := strings.Join(lines, "\n")
	for _, cand := range enclosureCandidates {
		if strings.ContainsRune(joined, cand) {
			return cand
		}
	}
	return '"'
}

// detectEncoding tests a fixed ordered list of candidate encodings against
// the byte sample and returns the first that validates. UTF-16 is recognized
// by its BOM; Latin-1 is the terminal fallback since any byte sequence
// decodes under it.
func detectEncoding(sample []byte) (encoding.Encoding, string) {
	if bytes.HasPrefix(sample, []byte{0xFF, 0xFE}) {
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM), "utf-16le"
	}
	if bytes.HasPrefix(sample, []byte{0xFE, 0xFF}) {
		return unicode.UTF16(unicode.BigEndian, unicode.UseBOM), "utf-16be"
	}
	if utf8.Valid(sample) {
		return unicode.UTF8, "utf-8"
	}
	return charmap.ISO8859_1, "iso-8859-1"
}

func decodeSample(sample []byte, enc encoding.Encoding) string {
	decoded, err := enc.NewDecoder().Bytes(sample)
	if err != nil {
		return string(sample)
	}
	return string(decoded)
}

func sampleLines(text string, limit int) []string {
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() && len(lines) < limit {
		if line := sc.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		lines = []string{""}
	}
	return lines
}
