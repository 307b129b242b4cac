package gather

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// LoadCSVSymbols reads the first column of a CSV file with a header row.
func LoadCSVSymbols(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening CSV %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, nil
	}

	symbols := make([]string, 0, len(records)-1)
	for _, row := range records[1:] {
		if len(row) == 0 {
			continue
		}
		if sym := strings.TrimSpace(row[0]); sym != "" {
			symbols = append(symbols, strings.ToUpper(sym))
		}
	}
	return symbols, nil
}
