package dataset

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// LoadTSV reads a benchmark TSV file into rows. The image column holds
// either one base64 payload or a JSON list of payloads; for list rows the
// image_path column names the target files, in the same order.
func LoadTSV(path string) ([]Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open benchmark file: %w", err)
	}
	defer file.Close()
	rows, err := ReadTSV(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

// ReadTSV parses benchmark rows from r. The first record is the header.
func ReadTSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	columnIndex := make(map[string]int, len(header))
	for i, name := range header {
		columnIndex[strings.TrimSpace(name)] = i
	}
	if _, ok := columnIndex["question"]; !ok {
		return nil, fmt.Errorf("benchmark file has no question column")
	}

	var rows []Row
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		cell := func(name string) string {
			idx, ok := columnIndex[name]
			if !ok || idx >= len(record) {
				return ""
			}
			return record[idx]
		}

		row := Row{
			Index:    cell("index"),
			Question: cell("question"),
			Hint:     cell("hint"),
			Columns:  make(map[string]string),
		}
		row.Images, err = parseListCell(cell("image"))
		if err != nil {
			return nil, fmt.Errorf("line %d: image column: %w", line, err)
		}
		row.ImageNames, err = parseListCell(cell("image_path"))
		if err != nil {
			return nil, fmt.Errorf("line %d: image_path column: %w", line, err)
		}
		if len(row.Images) == 1 {
			row.ImageNames = nil
		}
		for name, idx := range columnIndex {
			switch name {
			case "index", "question", "hint", "image", "image_path":
				continue
			}
			if idx < len(record) {
				row.Columns[name] = record[idx]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// parseListCell interprets a cell as either a JSON string list or a single
// plain value. Empty cells yield nil.
func parseListCell(cell string) ([]string, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return nil, nil
	}
	if strings.HasPrefix(cell, "[") {
		var values []string
		if err := json.Unmarshal([]byte(cell), &values); err != nil {
			return nil, fmt.Errorf("parse list cell: %w", err)
		}
		return values, nil
	}
	return []string{cell}, nil
}
