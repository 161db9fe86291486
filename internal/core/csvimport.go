package core

// csvimport.go turns an uploaded CSV file into a header row plus data rows
// for display.
//
// Parsing is lenient. Empty lines are skipped, rows with the wrong number of
// fields are padded or truncated to the header width and reported, and rows
// with broken quoting are dropped and reported. Only I/O failures abort.

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// DefaultCSVSoftLimit is the size above which an import gets a size warning.
const DefaultCSVSoftLimit = 200_000

// MsgCSVTooLarge is the warning shown for files over the soft limit.
const MsgCSVTooLarge = "File size should not be more than 200KB"

// ErrFileTooLarge marks a file over the soft limit. It is a warning: the file
// is still parsed.
var ErrFileTooLarge = errors.New("file too large for import")

// ErrNoFile is returned when a form carries no file.
var ErrNoFile = errors.New("no file provided")

// ParsedCsv is the decoded content of one import.
// Every row has len(Headers) cells.
type ParsedCsv struct {
	Headers []string
	Rows    [][]string
}

// RowError describes a line the parser could not take as-is.
type RowError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// ParseResult is the outcome of ParseCSV.
type ParseResult struct {
	Parsed   ParsedCsv
	Errors   []RowError
	Size     int64
	Oversize bool
}

// Warning returns ErrFileTooLarge when the file exceeded the soft limit.
func (r *ParseResult) Warning() error {
	if r.Oversize {
		return ErrFileTooLarge
	}
	return nil
}

// CSVImporter parses uploads with a configurable soft size limit.
type CSVImporter struct {
	SoftLimit int64
}

// NewCSVImporter creates an importer. A non-positive limit means DefaultCSVSoftLimit.
func NewCSVImporter(softLimit int64) *CSVImporter {
	if softLimit <= 0 {
		softLimit = DefaultCSVSoftLimit
	}
	return &CSVImporter{SoftLimit: softLimit}
}

// Parse decodes r, whose length is size bytes.
func (c *CSVImporter) Parse(r io.Reader, size int64) (*ParseResult, error) {
	return ParseCSV(r, size, c.SoftLimit)
}

// ParseCSV decodes a CSV stream. The first non-blank line is the header row.
// size is the file length as reported by the upload and drives the
// oversize warning. When size is unknown (<= 0) the decoded byte count is
// used instead.
func ParseCSV(r io.Reader, size, softLimit int64) (*ParseResult, error) {
	res := &ParseResult{
		Parsed: ParsedCsv{Headers: []string{}, Rows: [][]string{}},
		Size:   size,
	}
	if softLimit > 0 && size > softLimit {
		res.Oversize = true
	}

	in := NewUploadReader(r)
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false

	headerSeen := false
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				res.Errors = append(res.Errors, RowError{Line: perr.StartLine, Message: perr.Err.Error()})
				continue
			}
			return nil, fmt.Errorf("read csv: %w", err)
		}

		if isBlankRecord(record) {
			continue
		}

		if !headerSeen {
			res.Parsed.Headers = record
			headerSeen = true
			continue
		}

		width := len(res.Parsed.Headers)
		if len(record) != width {
			line, _ := reader.FieldPos(0)
			res.Errors = append(res.Errors, fieldCountError(line, width, len(record)))
			record = fitRow(record, width)
		}
		res.Parsed.Rows = append(res.Parsed.Rows, record)
	}

	if size <= 0 {
		res.Size = in.BytesRead()
		res.Oversize = softLimit > 0 && res.Size > softLimit
	}
	return res, nil
}

// isBlankRecord reports whether a record holds a single empty field. Lines of
// only spaces are data and go through the field count check like any other row.
func isBlankRecord(record []string) bool {
	return len(record) == 1 && record[0] == ""
}

// fitRow pads or truncates row to width cells.
func fitRow(row []string, width int) []string {
	if len(row) > width {
		return row[:width]
	}
	out := make([]string, width)
	copy(out, row)
	return out
}

func fieldCountError(line, want, got int) RowError {
	kind := "Too few fields"
	if got > want {
		kind = "Too many fields"
	}
	return RowError{
		Line:    line,
		Message: fmt.Sprintf("%s: expected %d fields but parsed %d", kind, want, got),
	}
}
