// Package transfer imports license keys from files and exports stored
// licenses to spreadsheets.
package transfer

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmehdipour/license-manager/internal/apperr"
	"github.com/jmehdipour/license-manager/internal/logger"
	"github.com/jmehdipour/license-manager/internal/model"
	"github.com/jmehdipour/license-manager/internal/repository"
	"github.com/jmehdipour/license-manager/internal/service/licenses"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatTXT  Format = "txt"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts a format name or a file name with extension.
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		s = s[i+1:]
	}
	switch f := Format(s); f {
	case FormatCSV, FormatTXT, FormatXLSX:
		return f, nil
	}
	return "", apperr.Invalid("unsupported file format %q", s)
}

const sheetName = "Licenses"

// Column names accepted by Export.
const (
	ColID               = "id"
	ColLicenseKey       = "license_key"
	ColOrderID          = "order_id"
	ColProductID        = "product_id"
	ColUserID           = "user_id"
	ColStatus           = "status"
	ColSource           = "source"
	ColExpiresAt        = "expires_at"
	ColValidFor         = "valid_for"
	ColActivationsLimit = "activations_limit"
	ColCreatedAt        = "created_at"
)

// DefaultColumns is used when Export is called without a column list.
var DefaultColumns = []string{ColID, ColLicenseKey, ColOrderID, ColProductID, ColStatus, ColExpiresAt, ColActivationsLimit}

var columnValues = map[string]func(*licenses.View) string{
	ColID:               func(v *licenses.View) string { return strconv.FormatInt(v.ID, 10) },
	ColLicenseKey:       func(v *licenses.View) string { return v.LicenseKey },
	ColOrderID:          func(v *licenses.View) string { return int64Cell(v.OrderID) },
	ColProductID:        func(v *licenses.View) string { return int64Cell(v.ProductID) },
	ColUserID:           func(v *licenses.View) string { return int64Cell(v.UserID) },
	ColStatus:           func(v *licenses.View) string { return v.Status.String() },
	ColSource:           func(v *licenses.View) string { return v.Source.String() },
	ColExpiresAt:        func(v *licenses.View) string { return timeCell(v.ExpiresAt) },
	ColValidFor:         func(v *licenses.View) string { return intCell(v.ValidFor) },
	ColActivationsLimit: func(v *licenses.View) string { return intCell(v.ActivationsLimit) },
	ColCreatedAt:        func(v *licenses.View) string { return v.CreatedAt.UTC().Format(time.RFC3339) },
}

// ImportOptions are applied to every imported key.
type ImportOptions struct {
	Status           model.LicenseStatus
	OrderID          *int64
	ProductID        *int64
	UserID           *int64
	ValidFor         *int
	ActivationsLimit *int
	CreatedBy        *int64
}

// ImportResult counts what happened to each key read from the file.
type ImportResult struct {
	Added      int `json:"added"`
	Failed     int `json:"failed"`
	Duplicates int `json:"duplicates"`
}

type Service struct {
	licenses     *licenses.Service
	licensesRepo repository.LicensesRepository
}

func New(licensesSvc *licenses.Service, licensesRepo repository.LicensesRepository) *Service {
	return &Service{licenses: licensesSvc, licensesRepo: licensesRepo}
}

// Import reads keys from r and stores each as a license with source import.
// Individual failures are counted, not returned.
func (s *Service) Import(ctx context.Context, r io.Reader, format Format, opts ImportOptions) (*ImportResult, error) {
	keys, err := ReadKeys(r, format)
	if err != nil {
		return nil, err
	}

	res := &ImportResult{}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		_, err := s.licenses.Create(ctx, licenses.CreateInput{
			Key:              key,
			OrderID:          opts.OrderID,
			ProductID:        opts.ProductID,
			UserID:           opts.UserID,
			ValidFor:         opts.ValidFor,
			Status:           opts.Status,
			Source:           model.SourceImport,
			ActivationsLimit: opts.ActivationsLimit,
			CreatedBy:        opts.CreatedBy,
		})
		switch {
		case err == nil:
			res.Added++
		case errors.Is(err, apperr.ErrLicenseExists):
			res.Duplicates++
		default:
			res.Failed++
			logger.Log.Warn("import license failed", zap.Error(err))
		}
	}

	logger.Log.Info("licenses imported",
		zap.Int("added", res.Added),
		zap.Int("failed", res.Failed),
		zap.Int("duplicates", res.Duplicates),
	)
	return res, nil
}

// ReadKeys extracts keys from r: one per line for txt, the first column for
// csv and xlsx. Blank cells are skipped.
func ReadKeys(r io.Reader, format Format) ([]string, error) {
	var keys []string
	add := func(k string) {
		k = strings.TrimSpace(strings.TrimPrefix(k, "\ufeff"))
		if k != "" {
			keys = append(keys, k)
		}
	}

	switch format {
	case FormatTXT:
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			add(sc.Text())
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read txt: %w", err)
		}
	case FormatCSV:
		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1
		cr.TrimLeadingSpace = true
		for {
			rec, err := cr.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, apperr.Wrap(err, apperr.CodeValidation, http.StatusBadRequest, "malformed csv file")
			}
			if len(rec) > 0 {
				add(rec[0])
			}
		}
	case FormatXLSX:
		f, err := excelize.OpenReader(r)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeValidation, http.StatusBadRequest, "malformed xlsx file")
		}
		defer f.Close()
		rows, err := f.GetRows(f.GetSheetName(0))
		if err != nil {
			return nil, fmt.Errorf("read xlsx: %w", err)
		}
		for _, row := range rows {
			if len(row) > 0 {
				add(row[0])
			}
		}
	default:
		return nil, apperr.Invalid("unsupported file format %q", format)
	}
	return keys, nil
}

// Export writes the licenses identified by ids to w with the given columns.
func (s *Service) Export(ctx context.Context, w io.Writer, ids []int64, format Format, columns []string) (int, error) {
	if len(ids) == 0 {
		return 0, apperr.Invalid("no licenses selected")
	}
	if len(columns) == 0 {
		columns = DefaultColumns
	}
	for _, c := range columns {
		if _, ok := columnValues[c]; !ok {
			return 0, apperr.Invalid("unknown export column %q", c)
		}
	}

	rows, err := s.licensesRepo.ListByIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("list licenses: %w", err)
	}

	records := make([][]string, 0, len(rows)+1)
	records = append(records, columns)
	for i := range rows {
		plain, err := s.licenses.Decrypt(&rows[i])
		if err != nil {
			logger.Log.Warn("decrypt license failed", zap.Int64("license_id", rows[i].ID), zap.Error(err))
		}
		v := licenses.NewView(&rows[i], plain)
		rec := make([]string, len(columns))
		for j, c := range columns {
			rec[j] = columnValues[c](v)
		}
		records = append(records, rec)
	}

	switch format {
	case FormatCSV:
		err = writeCSV(w, records)
	case FormatXLSX:
		err = writeXLSX(w, records)
	default:
		err = apperr.Invalid("unsupported export format %q", format)
	}
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func writeCSV(w io.Writer, records [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(records); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

func writeXLSX(w io.Writer, records [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("xlsx sheet: %w", err)
	}
	for i, rec := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		row := make([]any, len(rec))
		for j := range rec {
			row[j] = rec[j]
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("xlsx row %d: %w", i+1, err)
		}
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func int64Cell(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func intCell(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func timeCell(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
