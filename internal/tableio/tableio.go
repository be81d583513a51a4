package tableio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"

	"github.com/cognicore/certa/pkg/certa/internalerr"
	"github.com/cognicore/certa/pkg/certa/record"
)

// Options controls how table values are cleaned on load
type Options struct {
	// StripMarkup reduces HTML fragments in values to their text.
	StripMarkup bool
	// Normalize applies NFKC normalization and trims whitespace.
	Normalize bool
	Logger    *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// LoadTable reads a background table from a CSV file with an id column.
func LoadTable(path string, side record.Side, opts Options) (record.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return record.Table{}, fmt.Errorf("open table %s: %w", path, err)
	}
	defer f.Close()
	return ReadTable(f, path, side, opts)
}

// ReadTable reads a background table from CSV. Rows with a bad field count,
// a non-integer id or a duplicate id are logged and skipped.
func ReadTable(r io.Reader, name string, side record.Side, opts Options) (record.Table, error) {
	logger := opts.logger()
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return record.Table{}, fmt.Errorf("%w: read header of %s: %v", internalerr.ErrInvalidInput, name, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	idCol := indexOf(header, record.IDField)
	if idCol < 0 {
		return record.Table{}, fmt.Errorf("%w: %s has no %q column", internalerr.ErrInvalidInput, name, record.IDField)
	}

	seen := make(map[int64]struct{})
	var rows []record.Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.Warn("skipping malformed row", "file", name, "line", line, "err", err)
			continue
		}
		if len(row) != len(header) {
			logger.Warn("skipping malformed row", "file", name, "line", line,
				"fields", len(row), "want", len(header))
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSpace(row[idCol]), 10, 64)
		if err != nil {
			logger.Warn("skipping row with bad id", "file", name, "line", line, "id", row[idCol])
			continue
		}
		if _, dup := seen[id]; dup {
			logger.Warn("skipping duplicate id", "file", name, "line", line, "id", id)
			continue
		}
		seen[id] = struct{}{}

		rec := record.Record{ID: id, Fields: make([]record.Field, 0, len(header)-1)}
		for i, col := range header {
			if i == idCol {
				continue
			}
			rec.Fields = append(rec.Fields, record.Field{Name: col, Value: clean(row[i], opts)})
		}
		rows = append(rows, rec)
	}

	if len(rows) == 0 {
		return record.Table{}, fmt.Errorf("%w: no valid rows found in %s", internalerr.ErrInvalidInput, name)
	}
	return record.NewTable(side, header, rows), nil
}

// IDPair references one left and one right record by id.
type IDPair struct {
	LeftID   int64
	RightID  int64
	Label    int
	HasLabel bool
}

// LoadPairs reads a ltable_id,rtable_id[,label] CSV file.
func LoadPairs(path string, opts Options) ([]IDPair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pairs %s: %w", path, err)
	}
	defer f.Close()
	return ReadPairs(f, path, opts)
}

// ReadPairs reads id pairs from CSV. Malformed rows are logged and skipped.
func ReadPairs(r io.Reader, name string, opts Options) ([]IDPair, error) {
	logger := opts.logger()
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read header of %s: %v", internalerr.ErrInvalidInput, name, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	lcol := indexOf(header, record.Left.Prefix()+record.IDField)
	rcol := indexOf(header, record.Right.Prefix()+record.IDField)
	labelCol := indexOf(header, "label")
	if lcol < 0 || rcol < 0 {
		return nil, fmt.Errorf("%w: %s needs ltable_id and rtable_id columns", internalerr.ErrInvalidInput, name)
	}

	var pairs []IDPair
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil || len(row) != len(header) {
			logger.Warn("skipping malformed row", "file", name, "line", line, "err", err)
			continue
		}
		lid, lerr := strconv.ParseInt(strings.TrimSpace(row[lcol]), 10, 64)
		rid, rerr := strconv.ParseInt(strings.TrimSpace(row[rcol]), 10, 64)
		if lerr != nil || rerr != nil {
			logger.Warn("skipping row with bad id", "file", name, "line", line)
			continue
		}
		p := IDPair{LeftID: lid, RightID: rid}
		if labelCol >= 0 {
			label, err := strconv.Atoi(strings.TrimSpace(row[labelCol]))
			if err != nil || (label != 0 && label != 1) {
				logger.Warn("skipping row with bad label", "file", name, "line", line, "label", row[labelCol])
				continue
			}
			p.Label, p.HasLabel = label, true
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

func indexOf(cols []string, name string) int {
	for i, c := range cols {
		if c == name {
			return i
		}
	}
	return -1
}

func clean(v string, opts Options) string {
	if opts.StripMarkup && strings.ContainsRune(v, '<') {
		v = stripMarkup(v)
	}
	if opts.Normalize {
		v = strings.TrimSpace(norm.NFKC.String(v))
	}
	return v
}

func stripMarkup(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		// Fallback to string if parsing fails
		return s
	}

	var buf strings.Builder
	var extractText func(*html.Node)
	extractText = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extractText(c)
		}
	}
	extractText(doc)

	return strings.TrimSpace(buf.String())
}
