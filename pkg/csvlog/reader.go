// Package csvlog reads CAN bus logs exported as CSV with a header row.
//
// The expected columns are "Time Stamp" (microseconds), "ID" (hex, no 0x
// prefix), "LEN" (decimal data length) and "D1".."D8" (hex bytes). Column
// order does not matter and extra columns are ignored.
package csvlog

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/BIwashi/canreplay/pkg/can"
)

const (
	ColumnTimestamp = "Time Stamp"
	ColumnID        = "ID"
	ColumnLength    = "LEN"
)

var requiredColumns = []string{ColumnTimestamp, ColumnID, ColumnLength}

// Reader turns CSV rows into frames one at a time.
type Reader struct {
	csv     *csv.Reader
	columns map[string]int
	data    [can.MaxLength]int // column index of D1..D8, -1 when absent
	row     int
}

// NewReader reads the header row and checks that the required columns exist.
func NewReader(r io.Reader) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty log: missing header row")
		}
		return nil, errors.Wrap(err, "failed to read header row")
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		columns[name] = i
	}

	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			return nil, errors.Newf("missing required column %q", name)
		}
	}

	lr := &Reader{
		csv:     cr,
		columns: columns,
	}
	for i := range lr.data {
		idx, ok := columns[fmt.Sprintf("D%d", i+1)]
		if !ok {
			idx = -1
		}
		lr.data[i] = idx
	}

	return lr, nil
}

// Next returns the next frame. It returns io.EOF after the last row. A row
// that cannot be parsed yields an error marked with can.ErrMalformedRecord;
// reading may continue after it.
func (r *Reader) Next() (can.Frame, error) {
	record, err := r.csv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return can.Frame{}, io.EOF
		}
		r.row++
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return can.Frame{}, errors.Mark(errors.Wrapf(err, "row %d", r.row), can.ErrMalformedRecord)
		}
		return can.Frame{}, errors.Wrap(err, "failed to read log row")
	}
	r.row++

	frame, err := r.parse(record)
	if err != nil {
		return can.Frame{}, errors.Wrapf(err, "row %d", r.row)
	}
	return frame, nil
}

// Row returns the number of data rows consumed so far.
func (r *Reader) Row() int {
	return r.row
}

func (r *Reader) parse(record []string) (can.Frame, error) {
	rawTimestamp, ok := r.field(record, ColumnTimestamp)
	if !ok {
		return can.Frame{}, can.MalformedRecord("missing %q", ColumnTimestamp)
	}
	timestamp, err := strconv.ParseFloat(rawTimestamp, 64)
	if err != nil || math.IsNaN(timestamp) || math.IsInf(timestamp, 0) {
		return can.Frame{}, can.MalformedRecord("invalid %q value %q", ColumnTimestamp, rawTimestamp)
	}

	rawID, ok := r.field(record, ColumnID)
	if !ok {
		return can.Frame{}, can.MalformedRecord("missing %q", ColumnID)
	}
	id, err := strconv.ParseUint(rawID, 16, 32)
	if err != nil {
		return can.Frame{}, can.MalformedRecord("invalid %q value %q", ColumnID, rawID)
	}

	rawLength, ok := r.field(record, ColumnLength)
	if !ok {
		return can.Frame{}, can.MalformedRecord("missing %q", ColumnLength)
	}
	length, err := strconv.Atoi(rawLength)
	if err != nil {
		return can.Frame{}, can.MalformedRecord("invalid %q value %q", ColumnLength, rawLength)
	}
	if length < 0 {
		return can.Frame{}, can.MalformedRecord("negative %q value %d", ColumnLength, length)
	}

	var data [can.MaxLength]byte
	for i, idx := range r.data {
		if idx < 0 || idx >= len(record) {
			continue
		}
		// Blank or unparsable bytes stay zero.
		if v, err := strconv.ParseUint(strings.TrimSpace(record[idx]), 16, 8); err == nil {
			data[i] = byte(v)
		}
	}

	return can.NewFrame(timestamp, uint32(id), length, data[:]), nil
}

func (r *Reader) field(record []string, name string) (string, bool) {
	idx := r.columns[name]
	if idx >= len(record) {
		return "", false
	}
	v := strings.TrimSpace(record[idx])
	return v, v != ""
}
