package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jeanbovet/semantica/internal/chunk"
)

// textDecoder reads the whole file as UTF-8 text and returns it as a
// single page. Covers both .txt and .md: the chunker's sentence/
// whitespace boundary rules apply equally well to prose and to markdown
// source, so no header-aware splitting is needed at the decoder layer.
type textDecoder struct{}

func (textDecoder) Decode(path string) ([]chunk.Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return []chunk.Page{{Number: 0, Text: string(data)}}, nil
}

// delimitedDecoder decodes CSV/TSV into a single text blob: one line per
// row, fields joined with a space so the chunker can still break on
// sentence/whitespace boundaries within a row.
type delimitedDecoder struct {
	delimiter rune
}

func (d delimitedDecoder) Decode(path string) ([]chunk.Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = d.delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var lines []string
	for {
		record, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// Tolerate malformed rows rather than failing the whole file;
			// a partially-decoded spreadsheet still beats "failed".
			break
		}
		lines = append(lines, strings.Join(record, " "))
	}

	return []chunk.Page{{Number: 0, Text: strings.Join(lines, "\n")}}, nil
}
