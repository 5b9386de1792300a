package app

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"purchase-ingest/internal/purchase"
	"purchase-ingest/internal/storage"
)

// Show prints the most recently stored purchases and the table size.
func (a *App) Show(ctx context.Context, out io.Writer, opts ShowOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	total, err := store.CountPurchases(ctx)
	if err != nil {
		return err
	}
	if opts.Date != nil {
		onDate, err := store.CountPurchasesOn(ctx, *opts.Date)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %d purchases\n", purchase.FormatDate(*opts.Date), onDate)
	}

	rows, err := store.ListRecentPurchases(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "no purchases found")
		return nil
	}

	writePurchaseTable(out, rows)
	fmt.Fprintf(out, "\nshowing %d of %d purchases\n", len(rows), total)
	return nil
}

func writePurchaseTable(out io.Writer, rows []storage.StoredPurchase) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tDate\tSeconds\tClient\tGender\tProduct\tQty\tPrice\tDiscount\tTotal")

	for _, row := range rows {
		fmt.Fprintf(
			writer,
			"%d\t%s\t%d\t%d\t%s\t%d\t%s\t%s\t%s\t%s\n",
			row.ID,
			purchase.FormatDate(row.PurchaseDate),
			row.SecondsFromMidnight,
			row.ClientID,
			sanitizeInline(row.Gender),
			row.ProductID,
			row.Quantity.String(),
			row.PricePerItem.StringFixed(2),
			row.DiscountPerItem.StringFixed(2),
			row.TotalPrice.StringFixed(2),
		)
	}

	writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	if cleaned == "" {
		return strconv.Quote("")
	}
	return cleaned
}
