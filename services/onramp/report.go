package onramp

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"gorm.io/gorm"

	"mavuno/native/fiat"
)

// ReportFile describes one generated reconciliation report.
type ReportFile struct {
	Start       time.Time
	End         time.Time
	CSVPath     string
	ParquetPath string
	Count       int
}

// Reporter writes the settled payments of a window to CSV and Parquet.
type Reporter struct {
	db     *gorm.DB
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

func NewReporter(db *gorm.DB, dir string, now func() time.Time, logger *slog.Logger) (*Reporter, error) {
	if db == nil {
		return nil, fmt.Errorf("onramp: report database required")
	}
	if dir == "" {
		return nil, fmt.Errorf("onramp: report directory required")
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{db: db, dir: dir, now: now, logger: logger}, nil
}

// Run reports payments settled in [start, end).
func (r *Reporter) Run(ctx context.Context, start, end time.Time) (*ReportFile, error) {
	var payments []Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND settled_at >= ? AND settled_at < ?", StatusSettled, start.UTC(), end.UTC()).
		Order("settled_at").Order("reference").
		Find(&payments).Error
	if err != nil {
		return nil, fmt.Errorf("onramp: load settled payments: %w", err)
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, fmt.Errorf("onramp: create report dir: %w", err)
	}
	name := fmt.Sprintf("onramp_%s_%s", start.UTC().Format("20060102T150405Z"), end.UTC().Format("20060102T150405Z"))
	report := &ReportFile{
		Start:       start,
		End:         end,
		CSVPath:     filepath.Join(r.dir, name+".csv"),
		ParquetPath: filepath.Join(r.dir, name+".parquet"),
		Count:       len(payments),
	}
	if err := writeCSV(report.CSVPath, payments); err != nil {
		return nil, err
	}
	if err := writeParquet(report.ParquetPath, payments); err != nil {
		return nil, err
	}
	r.logger.Info("onramp: wrote reconciliation report", "csv", report.CSVPath, "parquet", report.ParquetPath, "rows", report.Count)
	return report, nil
}

// Schedule registers a report over the trailing window on the cron spec and
// returns the started scheduler. Stop it to end reporting.
func (r *Reporter) Schedule(spec string, window time.Duration) (*cron.Cron, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(spec, func() {
		end := r.now().UTC()
		if _, err := r.Run(context.Background(), end.Add(-window), end); err != nil {
			r.logger.Error("onramp: scheduled report failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("onramp: report schedule %q: %w", spec, err)
	}
	c.Start()
	return c, nil
}

// majorUnits renders minor units as a decimal string in the currency's major
// unit, e.g. "1234.56".
func majorUnits(code, minor string) string {
	v, ok := new(big.Int).SetString(minor, 10)
	if !ok {
		return minor
	}
	decimals := int32(fiat.Decimals)
	if cur, err := fiat.ParseCurrency(code); err == nil {
		decimals = int32(cur.Info().Decimals)
	}
	return decimal.NewFromBigInt(v, -decimals).StringFixed(decimals)
}

func settledAt(p Payment) string {
	if p.SettledAt == nil {
		return ""
	}
	return p.SettledAt.UTC().Format(time.RFC3339)
}

func writeCSV(path string, payments []Payment) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("onramp: create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	header := []string{
		"receipt_id", "provider", "reference", "account", "on_behalf_of", "currency", "purpose",
		"amount_minor", "amount", "created_at", "settled_at",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("onramp: write csv header: %w", err)
	}
	for _, p := range payments {
		record := []string{
			p.ReceiptID,
			p.Provider,
			p.Reference,
			p.Account,
			p.OnBehalfOf,
			p.Currency,
			string(p.Purpose),
			p.Amount,
			majorUnits(p.Currency, p.Amount),
			p.CreatedAt.UTC().Format(time.RFC3339),
			settledAt(p),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("onramp: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("onramp: flush csv: %w", err)
	}
	return nil
}

type parquetRow struct {
	ReceiptID   string `parquet:"name=receipt_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Provider    string `parquet:"name=provider, type=BYTE_ARRAY, convertedtype=UTF8"`
	Reference   string `parquet:"name=reference, type=BYTE_ARRAY, convertedtype=UTF8"`
	Account     string `parquet:"name=account, type=BYTE_ARRAY, convertedtype=UTF8"`
	OnBehalfOf  string `parquet:"name=on_behalf_of, type=BYTE_ARRAY, convertedtype=UTF8"`
	Currency    string `parquet:"name=currency, type=BYTE_ARRAY, convertedtype=UTF8"`
	Purpose     string `parquet:"name=purpose, type=BYTE_ARRAY, convertedtype=UTF8"`
	AmountMinor string `parquet:"name=amount_minor, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount      string `parquet:"name=amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt   string `parquet:"name=created_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	SettledAt   string `parquet:"name=settled_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func writeParquet(path string, payments []Payment) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("onramp: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("onramp: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, p := range payments {
		row := &parquetRow{
			ReceiptID:   p.ReceiptID,
			Provider:    p.Provider,
			Reference:   p.Reference,
			Account:     p.Account,
			OnBehalfOf:  p.OnBehalfOf,
			Currency:    p.Currency,
			Purpose:     string(p.Purpose),
			AmountMinor: p.Amount,
			Amount:      majorUnits(p.Currency, p.Amount),
			CreatedAt:   p.CreatedAt.UTC().Format(time.RFC3339),
			SettledAt:   settledAt(p),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("onramp: write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("onramp: finalize parquet: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("onramp: close parquet: %w", err)
	}
	return nil
}
