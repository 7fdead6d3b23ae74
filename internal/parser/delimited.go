package parser

import (
	"errors"
	"fmt"
	"io"
	"os"

	"feedport/internal/record"
)

var (
	ErrEmptyFeed     = errors.New("feed has no header row")
	ErrUnknownColumn = errors.New("declared column not present in header")
)

// Structure is the result of a structural discovery pass: the ordered field
// catalogue, one page of decoded sample records, and pagination metadata.
type Structure struct {
	Catalogue    *record.Catalogue `json:"catalogue"`
	Records      []*record.Record  `json:"records"`
	TotalRecords int               `json:"total_records"`
	CurrentPage  int               `json:"current_page"`
	TotalPages   int               `json:"total_pages"`
}

// GroupOptions configure parent/variant extraction from a delimited feed.
type GroupOptions struct {
	// ParentKey is the column holding a variant's reference to its parent.
	ParentKey string
	// TypeColumn, when set, marks parent rows explicitly; it takes
	// precedence over the heuristic.
	TypeColumn string
	// IDColumn is the row's own identifier column (used both for the
	// heuristic and as the group key of a parent row).
	IDColumn string
	// Heuristic enables the empty-own-id inference when no type marker is
	// present. Off means only the type column classifies parents.
	Heuristic bool
}

// Delimited streams delimiter-separated feeds. The dialect is sniffed once
// per file and reused across calls.
type Delimited struct {
	dialect Dialect
	path    string
}

func NewDelimited(path string) *Delimited {
	return &Delimited{path: path, dialect: Sniff(path)}
}

func (d *Delimited) Dialect() Dialect {
	return d.dialect
}

// ParseStructure builds the field catalogue from the header row plus a
// window of pageSize decoded rows starting at (page-1)*pageSize. The full
// file is streamed once to obtain the total row count.
func (d *Delimited) ParseStructure(page, pageSize int) (*Structure, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}

	rr, closeFn, err := d.openRows()
	if err != nil {
		return nil, err
	}
	defer closeFn()

	header, err := d.readHeader(rr)
	if err != nil {
		return nil, err
	}

	cat := record.NewCatalogue()
	for _, name := range header {
		cat.Add(name, record.KindText, "")
	}

	start := (page - 1) * pageSize
	var window []*record.Record
	total := 0
	for {
		row, err := rr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", total+1, err)
		}
		if total >= start && len(window) < pageSize {
			rec := rowToRecord(header, row)
			window = append(window, rec)
			rec.Each(func(path string, v any) {
				cat.Add(path, record.KindText, fmt.Sprint(v))
			})
		}
		total++
	}

	totalPages := (total + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}
	return &Structure{
		Catalogue:    cat,
		Records:      window,
		TotalRecords: total,
		CurrentPage:  page,
		TotalPages:   totalPages,
	}, nil
}

// ExtractRecords returns up to limit decoded rows starting at offset, keyed
// by the header names.
func (d *Delimited) ExtractRecords(offset, limit int) ([]*record.Record, error) {
	rr, closeFn, err := d.openRows()
	if err != nil {
		return nil, err
	}
	defer closeFn()

	header, err := d.readHeader(rr)
	if err != nil {
		return nil, err
	}

	var out []*record.Record
	idx := 0
	for len(out) < limit {
		row, err := rr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", idx+1, err)
		}
		if idx >= offset {
			out = append(out, rowToRecord(header, row))
		}
		idx++
	}
	return out, nil
}

// CountRecords counts data rows in a single dialect-aware streaming pass,
// so newlines inside enclosed fields do not split a row and the count
// always agrees with ExtractRecords pagination. The header is excluded.
func (d *Delimited) CountRecords() (int, error) {
	rr, closeFn, err := d.openRows()
	if err != nil {
		return 0, err
	}
	defer closeFn()

	if _, err := d.readHeader(rr); err != nil {
		if errors.Is(err, ErrEmptyFeed) {
			return 0, nil
		}
		return 0, err
	}

	count := 0
	for {
		_, err := rr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		count++
	}
	return count, nil
}

// CountGrouped returns how many groups the grouping pass would emit, so
// progress totals line up with grouped extraction offsets.
func (d *Delimited) CountGrouped(opts GroupOptions) (int, error) {
	order, _, err := d.groupAll(opts)
	if err != nil {
		return 0, err
	}
	return len(order), nil
}

// ExtractGrouped classifies every row as parent, variant, or standalone in a
// single streaming pass, accumulates variants under their parent key, then
// emits limit groups starting at offset. Variants whose parent row was never
// seen are promoted to a synthetic parent built from their own data.
func (d *Delimited) ExtractGrouped(opts GroupOptions, offset, limit int) ([]*record.Record, error) {
	order, groups, err := d.groupAll(opts)
	if err != nil {
		return nil, err
	}

	var out []*record.Record
	for i := offset; i < len(order) && len(out) < limit; i++ {
		out = append(out, groups[order[i]])
	}
	return out, nil
}

// groupAll runs the grouping pass over the whole feed and returns the
// groups in first-seen order.
func (d *Delimited) groupAll(opts GroupOptions) ([]string, map[string]*record.Record, error) {
	rr, closeFn, err := d.openRows()
	if err != nil {
		return nil, nil, err
	}
	defer closeFn()

	header, err := d.readHeader(rr)
	if err != nil {
		return nil, nil, err
	}
	cols := map[string]bool{}
	for _, h := range header {
		cols[h] = true
	}
	if !cols[opts.ParentKey] {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownColumn, opts.ParentKey)
	}
	if opts.IDColumn == "" {
		opts.IDColumn = "sku"
	}

	var order []string
	groups := map[string]*record.Record{}
	appendGroup := func(key string, rec *record.Record) {
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = rec
	}

	standaloneSeq := 0
	for {
		row, err := rr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		rec := rowToRecord(header, row)
		parentVal := rec.GetString(opts.ParentKey)
		ownID := rec.GetString(opts.IDColumn)
		typeVal := rec.GetString(opts.TypeColumn)

		isParent := false
		switch {
		case opts.TypeColumn != "" && typeVal != "":
			// Explicit marker wins over the heuristic.
			isParent = typeVal == "variable" || typeVal == "parent"
		case opts.Heuristic:
			isParent = ownID == "" && parentVal != ""
		}

		switch {
		case isParent:
			key := ownID
			if key == "" {
				key = parentVal
			}
			if existing, seen := groups[key]; seen {
				// A synthetic parent was created from an orphan
				// variant; the real parent replaces its fields
				// but keeps the accumulated variants.
				rec.Variants = existing.Variants
			}
			appendGroup(key, rec)
		case parentVal != "":
			parent, seen := groups[parentVal]
			if !seen {
				parent = syntheticParent(rec, opts, parentVal)
				appendGroup(parentVal, parent)
			}
			parent.Variants = append(parent.Variants, rec)
		default:
			// Simple row: passes through as a standalone record.
			key := ownID
			if key == "" {
				standaloneSeq++
				key = fmt.Sprintf("_row_%d", standaloneSeq)
			}
			appendGroup(key, rec)
		}
	}

	return order, groups, nil
}

// syntheticParent builds a stand-in parent from an orphan variant's data.
func syntheticParent(variant *record.Record, opts GroupOptions, parentKey string) *record.Record {
	parent := record.New()
	variant.Each(func(path string, v any) {
		parent.Set(path, v)
	})
	parent.Set(opts.IDColumn, parentKey)
	parent.Set(opts.ParentKey, "")
	if opts.TypeColumn != "" {
		parent.Set(opts.TypeColumn, "variable")
	}
	return parent
}

func (d *Delimited) openRows() (*rowReader, func(), error) {
	f, err := os.Open(d.path)
	if err != nil {
		return nil, nil, err
	}
	decoded := d.dialect.Encoding.NewDecoder().Reader(f)
	return newRowReader(decoded, d.dialect), func() { f.Close() }, nil
}

// readHeader consumes the header row, replacing empty cells with positional
// placeholder names.
func (d *Delimited) readHeader(rr *rowReader) ([]string, error) {
	header, err := rr.Read()
	if err == io.EOF {
		return nil, ErrEmptyFeed
	}
	if err != nil {
		return nil, err
	}
	for i, name := range header {
		if name == "" {
			header[i] = fmt.Sprintf("column_%d", i+1)
		}
	}
	return header, nil
}

func rowToRecord(header, row []string) *record.Record {
	rec := record.New()
	for i, name := range header {
		if i < len(row) {
			rec.Set(name, row[i])
		} else {
			rec.Set(name, "")
		}
	}
	return rec
}
