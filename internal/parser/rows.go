package parser

import (
	"bufio"
	"io"
	"strings"
)

// rowReader is a streaming row parser aware of the sniffed dialect. It
// supports any single-rune delimiter and enclosure, doubled-enclosure
// escaping, and newlines inside enclosed fields. Blank lines are skipped.
type rowReader struct {
	r       *bufio.Reader
	dialect Dialect
}

func newRowReader(r io.Reader, d Dialect) *rowReader {
	return &rowReader{r: bufio.NewReaderSize(r, 64*1024), dialect: d}
}

// Read returns the next row's fields, or io.EOF when the feed is exhausted.
func (rr *rowReader) Read() ([]string, error) {
	for {
		row, err := rr.readRow()
		if err != nil {
			return nil, err
		}
		if len(row) == 1 && row[0] == "" {
			continue // blank line
		}
		return row, nil
	}
}

func (rr *rowReader) readRow() ([]string, error) {
	var (
		fields   []string
		cur      strings.Builder
		enclosed bool
		any      bool
	)
	delim := rr.dialect.Delimiter
	quote := rr.dialect.Enclosure

	for {
		ch, _, err := rr.r.ReadRune()
		if err == io.EOF {
			if !any && cur.Len() == 0 && len(fields) == 0 {
				return nil, io.EOF
			}
			fields = append(fields, cur.String())
			return fields, nil
		}
		if err != nil {
			return nil, err
		}
		any = true

		if enclosed {
			if ch == quote {
				next, _, err := rr.r.ReadRune()
				if err == nil && next == quote {
					cur.WriteRune(quote) // escaped enclosure
					continue
				}
				if err == nil {
					_ = rr.r.UnreadRune()
				}
				enclosed = false
				continue
			}
			cur.WriteRune(ch)
			continue
		}

		switch ch {
		case quote:
			enclosed = true
		case delim:
			fields = append(fields, cur.String())
			cur.Reset()
		case '\r':
			next, _, err := rr.r.ReadRune()
			if err == nil && next != '\n' {
				_ = rr.r.UnreadRune()
			}
			fields = append(fields, cur.String())
			return fields, nil
		case '\n':
			fields = append(fields, cur.String())
			return fields, nil
		default:
			cur.WriteRune(ch)
		}
	}
}
