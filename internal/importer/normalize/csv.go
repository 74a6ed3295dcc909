// Package normalize turns raw CSV exports into typed usage events. The
// exports are `;`-delimited, may start with a UTF-8 BOM and routinely have
// ragged rows, so decoding is deliberately tolerant: a short row reads its
// missing cells as empty strings.
package normalize

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/smallbiznis/printmeter/internal/importer/domain"
)

// Row is one data row keyed by its (normalized) header cell.
type Row map[string]string

// DecodeCSV reads the whole export up front so the caller knows the total
// row count before any processing starts.
func DecodeCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(stripBOM(r))
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, domain.ErrEmptyFile
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCSV, err)
	}

	keys := make([]string, len(header))
	for i, cell := range header {
		keys[i] = normalizeHeader(cell)
	}
	if len(keys) == 0 {
		return nil, domain.ErrMissingHeader
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCSV, err)
		}
		row := make(Row, len(keys))
		for i, key := range keys {
			if key == "" {
				continue
			}
			if i < len(record) {
				row[key] = record[i]
			} else {
				row[key] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func stripBOM(r io.Reader) io.Reader {
	data, err := io.ReadAll(r)
	if err != nil {
		return r
	}
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	return bytes.NewReader(data)
}

func normalizeHeader(cell string) string {
	cell = strings.TrimSpace(strings.Trim(strings.TrimSpace(cell), `"`))
	return strings.ToLower(strings.Join(strings.Fields(cell), " "))
}

// lookup returns the first non-empty cell matching any alias of the field.
func lookup(row Row, aliases []string) string {
	for _, alias := range aliases {
		if v, ok := row[alias]; ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Header aliases for the known export formats. Device firmware localizes
// the column names, so both the English and Spanish spellings appear in
// the wild.
var (
	aliasAccountID     = []string{"account id", "id de cuenta", "cuenta", "account"}
	aliasAccountStatus = []string{"account status", "estado de cuenta", "estado", "status"}
	aliasPrintTotal    = []string{"print total", "total de impresion", "impresiones total"}
	aliasPrintColor    = []string{"print color", "impresion color", "impresiones color"}
	aliasPrintMono     = []string{"print mono", "print black", "impresion mono", "impresiones mono"}
	aliasCopyTotal     = []string{"copy total", "total de copias", "copias total"}
	aliasCopyColor     = []string{"copy color", "copias color"}
	aliasCopyMono      = []string{"copy mono", "copy black", "copias mono"}
	aliasScanTotal     = []string{"scan total", "total de escaneo", "escaneos"}
	aliasFaxTotal      = []string{"fax received", "fax recibidos", "fax total"}
	aliasTimestamp     = []string{"timestamp", "date", "fecha", "fecha y hora", "last updated"}
)
