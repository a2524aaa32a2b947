package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// DelimitedOptions controls reading and writing delimited text.
type DelimitedOptions struct {
	// Sep is the field separator. Zero means ','.
	Sep rune
	// Header marks the first record as column names.
	Header bool
}

func (o DelimitedOptions) sep() rune {
	if o.Sep == 0 {
		return ','
	}
	return o.Sep
}

// ReadDelimited decodes delimited text into a string table.
//
// Empty fields are read as nulls. Without a header, columns are named _c0, _c1, ...
// Records shorter than the header are padded with nulls; extra fields are ignored.
func ReadDelimited(r io.Reader, opts DelimitedOptions) (*Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = opts.sep()
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var header []string
	var rows [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if header == nil {
			if opts.Header {
				header = rec
				continue
			}
			header = make([]string, len(rec))
			for i := range rec {
				header[i] = fmt.Sprintf("_c%d", i)
			}
		}
		rows = append(rows, rec)
	}
	if header == nil && opts.Header {
		return nil, fmt.Errorf("read header: %w", io.ErrUnexpectedEOF)
	}

	cols := make([]*Column, len(header))
	for j, name := range header {
		values := make([]string, len(rows))
		nulls := make([]bool, len(rows))
		for i, rec := range rows {
			if j >= len(rec) || rec[j] == "" {
				nulls[i] = true
				continue
			}
			values[i] = rec[j]
		}
		cols[j] = NewColumn(name, values, nulls)
	}
	return New(cols...)
}

// WriteDelimited encodes t as delimited text. Nulls are written as empty fields.
func WriteDelimited(w io.Writer, t *Table, opts DelimitedOptions) error {
	cw := csv.NewWriter(w)
	cw.Comma = opts.sep()
	if opts.Header {
		if err := cw.Write(t.Columns()); err != nil {
			return err
		}
	}
	for i := 0; i < t.NumRows(); i++ {
		if err := cw.Write(t.Row(i)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
