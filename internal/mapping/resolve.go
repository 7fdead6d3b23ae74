package mapping

import (
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"feedport/internal/record"
)

// Context carries the per-record state available to identifier generation.
type Context struct {
	RowIndex   int
	SourceName string
	Now        func() time.Time
}

func (c Context) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Resolve determines which source value feeds a target field. The second
// return is false when the entry resolves to "no value" (missing source
// key, or tri-state/select left unmapped); a missing key is never an error.
//
// When a sub-mode resolves to a non-source value (yes, no, fixed,
// generate), Source is ignored for that entry.
func Resolve(entry Entry, rec *record.Record, ctx Context) (any, bool) {
	switch entry.Tristate {
	case TristateYes:
		return "yes", true
	case TristateNo:
		return "no", true
	case TristateMap:
		return lookup(entry.Source, rec)
	}

	switch entry.Select {
	case SelectFixed:
		return entry.Fixed, true
	case SelectMap:
		return lookup(entry.Source, rec)
	}

	switch entry.Identifier {
	case IdentifierGenerate:
		return generateIdentifier(entry.Pattern, rec, ctx), true
	case IdentifierMap:
		return lookup(entry.Source, rec)
	}

	return lookup(entry.Source, rec)
}

func lookup(source string, rec *record.Record) (any, bool) {
	if source == "" {
		return nil, false
	}
	v, ok := rec.Get(source)
	if !ok {
		return nil, false
	}
	return v, true
}

// generateIdentifier substitutes the pattern's placeholders textually at
// generation time: {row}, {timestamp}, {rand}, {source}, {hash}.
func generateIdentifier(pattern string, rec *record.Record, ctx Context) string {
	if pattern == "" {
		pattern = "{source}-{row}"
	}
	out := pattern
	if strings.Contains(out, "{row}") {
		out = strings.ReplaceAll(out, "{row}", strconv.Itoa(ctx.RowIndex))
	}
	if strings.Contains(out, "{timestamp}") {
		out = strings.ReplaceAll(out, "{timestamp}", strconv.FormatInt(ctx.now().Unix(), 10))
	}
	if strings.Contains(out, "{rand}") {
		token := strings.SplitN(uuid.New().String(), "-", 2)[0]
		out = strings.ReplaceAll(out, "{rand}", token)
	}
	if strings.Contains(out, "{source}") {
		out = strings.ReplaceAll(out, "{source}", slugify(ctx.SourceName))
	}
	if strings.Contains(out, "{hash}") {
		out = strings.ReplaceAll(out, "{hash}", contentHash(rec))
	}
	return out
}

// contentHash digests the record's values in field order, so identical
// records generate identical identifiers.
func contentHash(rec *record.Record) string {
	h := sha256.New()
	rec.Each(func(path string, v any) {
		fmt.Fprintf(h, "%s=%v;", path, v)
	})
	return fmt.Sprintf("%x", h.Sum(nil))[:12]
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteRune('-')
		}
	}
	return b.String()
}
