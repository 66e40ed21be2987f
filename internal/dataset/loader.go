// Package dataset reads policy records from CSV files and the compact JSON
// dashboard format.
package dataset

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/shopspring/decimal"
)

// Format identifies a dataset encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

var (
	// ErrUnsupportedFormat is returned for files that are neither CSV nor JSON.
	ErrUnsupportedFormat = errors.New("unsupported dataset format")

	// ErrMissingColumn is returned when a CSV header lacks a required column.
	ErrMissingColumn = errors.New("missing required column")
)

// Column names of the CSV layout.
const (
	ColCustomerID    = "customer_id"
	ColGender        = "gender"
	ColAge           = "age"
	ColCarModelYear  = "car_model_year"
	ColAnnualPremium = "annual_premium"
	ColTotalLoss     = "total_loss"
	ColLossRatio     = "loss_ratio"
)

// RequiredColumns must all be present in a CSV header, in any order.
var RequiredColumns = []string{
	ColCustomerID,
	ColGender,
	ColAge,
	ColCarModelYear,
	ColAnnualPremium,
	ColTotalLoss,
}

// FormatOf infers the format from the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// Load reads the dataset at path.
func Load(path string) ([]domain.PolicyRecord, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer file.Close()

	return Read(file, format)
}

// Read decodes records in the given format.
func Read(r io.Reader, format Format) ([]domain.PolicyRecord, error) {
	switch format {
	case FormatCSV:
		return ReadCSV(r)
	case FormatJSON:
		return ReadCompactJSON(r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// ReadCSV parses a headered CSV stream. A stored loss_ratio column is
// accepted but ignored; the ratio is always derived from premium and loss.
// The first malformed row aborts the read.
func ReadCSV(r io.Reader) ([]domain.PolicyRecord, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	// Read header
	header, err := reader.Read()
	if err == io.EOF {
		return []domain.PolicyRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")))] = i
	}
	for _, col := range RequiredColumns {
		if _, ok := colIndex[col]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	records := make([]domain.PolicyRecord, 0)
	line := 1

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return nil, fmt.Errorf("failed to read line %d: %w", line, err)
			}
			return nil, &domain.ValidationError{Line: line, Field: "row", Reason: perr.Err.Error()}
		}

		rec, err := parseRow(row, colIndex, line)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, nil
}

func parseRow(row []string, colIndex map[string]int, line int) (domain.PolicyRecord, error) {
	field := func(col string) string {
		return strings.TrimSpace(row[colIndex[col]])
	}

	var rec domain.PolicyRecord

	id, err := strconv.ParseInt(field(ColCustomerID), 10, 64)
	if err != nil {
		return rec, &domain.ValidationError{Line: line, Field: ColCustomerID, Reason: "must be an integer"}
	}
	rec.CustomerID = id

	fail := func(col, reason string) error {
		return &domain.ValidationError{CustomerID: id, Line: line, Field: col, Reason: reason}
	}

	rec.Gender = ParseGender(field(ColGender))

	if rec.Age, err = strconv.Atoi(field(ColAge)); err != nil {
		return rec, fail(ColAge, "must be an integer")
	}
	if rec.CarModelYear, err = strconv.Atoi(field(ColCarModelYear)); err != nil {
		return rec, fail(ColCarModelYear, "must be an integer")
	}
	if rec.AnnualPremium, err = parseAmount(field(ColAnnualPremium)); err != nil {
		return rec, fail(ColAnnualPremium, err.Error())
	}
	if rec.TotalLoss, err = parseAmount(field(ColTotalLoss)); err != nil {
		return rec, fail(ColTotalLoss, err.Error())
	}

	if err := rec.Validate(); err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			verr.Line = line
		}
		return rec, err
	}
	return rec, nil
}

// parseAmount reads a currency amount and rounds it to cents.
func parseAmount(s string) (float64, error) {
	if s == "" {
		return 0, errors.New("is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errors.New("must be a number")
	}
	return d.Round(2).InexactFloat64(), nil
}

// ParseGender normalizes the gender spelling. Unknown values are kept as-is so
// validation can report them.
func ParseGender(s string) domain.Gender {
	switch {
	case strings.EqualFold(s, string(domain.GenderMale)):
		return domain.GenderMale
	case strings.EqualFold(s, string(domain.GenderFemale)):
		return domain.GenderFemale
	default:
		return domain.Gender(s)
	}
}

// ReadCompactJSON parses the dashboard encoding: an array of
// [customer_id, male(1|0), age, car_model_year, annual_premium, total_loss].
func ReadCompactJSON(r io.Reader) ([]domain.PolicyRecord, error) {
	var rows [][]float64
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode dataset: %w", err)
	}

	records := make([]domain.PolicyRecord, 0, len(rows))
	for i, row := range rows {
		// Array position plus one stands in for a line number.
		pos := i + 1
		if len(row) != 6 {
			return nil, &domain.ValidationError{Line: pos, Field: "row", Reason: fmt.Sprintf("has %d values, want 6", len(row))}
		}

		id := int64(row[0])
		for j, col := range []string{ColCustomerID, ColGender, ColAge, ColCarModelYear} {
			if row[j] != math.Trunc(row[j]) {
				return nil, &domain.ValidationError{CustomerID: id, Line: pos, Field: col, Reason: "must be an integer"}
			}
		}

		var gender domain.Gender
		switch row[1] {
		case 1:
			gender = domain.GenderMale
		case 0:
			gender = domain.GenderFemale
		default:
			return nil, &domain.ValidationError{CustomerID: id, Line: pos, Field: ColGender, Reason: "must be 1 (male) or 0 (female)"}
		}

		rec := domain.PolicyRecord{
			CustomerID:    id,
			Gender:        gender,
			Age:           int(row[2]),
			CarModelYear:  int(row[3]),
			AnnualPremium: row[4],
			TotalLoss:     row[5],
		}
		if err := rec.Validate(); err != nil {
			var verr *domain.ValidationError
			if errors.As(err, &verr) {
				verr.Line = pos
			}
			return nil, err
		}
		records = append(records, rec)
	}

	return records, nil
}

// WriteCompactJSON encodes records in the dashboard format.
func WriteCompactJSON(w io.Writer, records []domain.PolicyRecord) error {
	rows := make([][]any, len(records))
	for i, r := range records {
		male := 0
		if r.Gender == domain.GenderMale {
			male = 1
		}
		rows[i] = []any{r.CustomerID, male, r.Age, r.CarModelYear, r.AnnualPremium, r.TotalLoss}
	}
	return json.NewEncoder(w).Encode(rows)
}

// WriteCSV encodes records with the canonical header, including the derived
// loss ratio.
func WriteCSV(w io.Writer, records []domain.PolicyRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append(append([]string{}, RequiredColumns...), ColLossRatio)); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			strconv.FormatInt(r.CustomerID, 10),
			string(r.Gender),
			strconv.Itoa(r.Age),
			strconv.Itoa(r.CarModelYear),
			decimal.NewFromFloat(r.AnnualPremium).StringFixed(2),
			decimal.NewFromFloat(r.TotalLoss).StringFixed(2),
			decimal.NewFromFloat(r.LossRatio()).StringFixed(4),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
