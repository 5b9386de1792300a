package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"purchase-ingest/internal/purchase"
	"purchase-ingest/internal/storage"
	"purchase-ingest/internal/window"
)

// Export writes persisted purchases in [from, to) as CSV and/or a PNG chart of daily totals.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	from, to, err := exportRange(opts, a.Config.ResolveMaxDays(opts.MaxDays), time.Now())
	if err != nil {
		return err
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	logger := a.Logger.With().
		Str("from", purchase.FormatDate(from)).
		Str("to", purchase.FormatDate(to)).
		Logger()

	if opts.CSVPath != "" {
		rows, err := store.ListPurchasesBetween(ctx, from, to)
		if err != nil {
			return err
		}
		if err := writePurchasesCSV(opts.CSVPath, rows); err != nil {
			return err
		}
		logger.Info().Int("rows", len(rows)).Str("path", opts.CSVPath).Msg("purchases exported")
	}

	if opts.PNGPath != "" {
		totals, err := store.DailyTotals(ctx, from, to)
		if err != nil {
			return err
		}
		if len(totals) < 2 {
			logger.Warn().Int("days", len(totals)).Msg("not enough days with data to chart")
			return nil
		}
		if err := writeTotalsPNG(opts.PNGPath, totals); err != nil {
			return err
		}
		logger.Info().Int("days", len(totals)).Str("path", opts.PNGPath).Msg("daily totals chart rendered")
	}

	return nil
}

// exportRange resolves [from, to) in whole UTC days. to defaults to tomorrow so today is
// included; from defaults to maxDays before to.
func exportRange(opts ExportOptions, maxDays int, now time.Time) (time.Time, time.Time, error) {
	to := window.Truncate(now).AddDate(0, 0, 1)
	if opts.To != nil {
		to = window.Truncate(*opts.To)
	}

	from := to.AddDate(0, 0, -maxDays)
	if opts.From != nil {
		from = window.Truncate(*opts.From)
	}

	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("from must be before to")
	}
	if days := int(to.Sub(from).Hours() / 24); days > maxDays {
		return time.Time{}, time.Time{}, fmt.Errorf("export window of %d days exceeds max of %d", days, maxDays)
	}
	return from, to, nil
}

func writePurchasesCSV(path string, rows []storage.StoredPurchase) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := append([]string{"id"}, purchase.Columns...)
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		record := []string{
			strconv.FormatInt(row.ID, 10),
			strconv.FormatInt(row.ClientID, 10),
			row.Gender,
			purchase.FormatDate(row.PurchaseDate),
			strconv.Itoa(row.SecondsFromMidnight),
			strconv.FormatInt(row.ProductID, 10),
			row.Quantity.String(),
			row.PricePerItem.String(),
			row.DiscountPerItem.String(),
			row.TotalPrice.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeTotalsPNG(path string, totals []storage.DailyTotal) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(totals))
	revenue := make([]float64, len(totals))
	count := make([]float64, len(totals))

	for i, total := range totals {
		x[i] = total.Date
		revenue[i] = total.Revenue.InexactFloat64()
		count[i] = float64(total.Purchases)
	}

	moneyFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	countFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Revenue",
			ValueFormatter: moneyFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Purchases",
			ValueFormatter: countFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Revenue",
				XValues: x,
				YValues: revenue,
			},
			chart.TimeSeries{
				Name:    "Purchases",
				XValues: x,
				YValues: count,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
