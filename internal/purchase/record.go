package purchase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the ISO-8601 calendar date format used on the wire and in logs.
const DateLayout = "2006-01-02"

// Column names, in wire and storage order.
const (
	ColClientID     = "client_id"
	ColGender       = "gender"
	ColPurchaseDate = "purchase_datetime"
	ColPurchaseTime = "purchase_time_as_seconds_from_midnight"
	ColProductID    = "product_id"
	ColQuantity     = "quantity"
	ColPricePerItem = "price_per_item"
	ColDiscountPer  = "discount_per_item"
	ColTotalPrice   = "total_price"
)

// Columns is the fixed field list shared by the API contract and the purchases table.
var Columns = []string{
	ColClientID,
	ColGender,
	ColPurchaseDate,
	ColPurchaseTime,
	ColProductID,
	ColQuantity,
	ColPricePerItem,
	ColDiscountPer,
	ColTotalPrice,
}

// Record is one retail transaction line item as returned by the purchases API.
type Record struct {
	ClientID            int64
	Gender              string
	PurchaseDate        time.Time
	SecondsFromMidnight int
	ProductID           int64
	Quantity            decimal.Decimal
	PricePerItem        decimal.Decimal
	DiscountPerItem     decimal.Decimal
	TotalPrice          decimal.Decimal
}

// Values returns the record's nine column values in Columns order, ready for positional binding.
func (r Record) Values() []any {
	return []any{
		r.ClientID,
		r.Gender,
		r.PurchaseDate,
		r.SecondsFromMidnight,
		r.ProductID,
		r.Quantity.String(),
		r.PricePerItem.String(),
		r.DiscountPerItem.String(),
		r.TotalPrice.String(),
	}
}

// MalformedRecordError reports a page element that could not be mapped onto Record.
// Index is the 1-based position within the page; 0 means the page itself did not decode.
type MalformedRecordError struct {
	Index int
	Field string
	Err   error
}

func (e *MalformedRecordError) Error() string {
	switch {
	case e.Index == 0:
		return fmt.Sprintf("malformed page: %v", e.Err)
	case e.Err == nil:
		return fmt.Sprintf("malformed record %d: missing field %q", e.Index, e.Field)
	default:
		return fmt.Sprintf("malformed record %d: field %q: %v", e.Index, e.Field, e.Err)
	}
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }

var (
	errNotArray  = errors.New("page is not a JSON array")
	errNullField = errors.New("null value")
)

// DecodePage parses a JSON array of purchase objects. An empty array yields an empty, non-nil slice.
func DecodePage(payload []byte) ([]Record, error) {
	if trimmed := bytes.TrimSpace(payload); len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, &MalformedRecordError{Err: errNotArray}
	}

	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &MalformedRecordError{Err: err}
	}

	records := make([]Record, 0, len(raw))
	for i, obj := range raw {
		rec, err := decodeRecord(i+1, obj)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeRecord(index int, obj map[string]json.RawMessage) (Record, error) {
	for _, col := range Columns {
		value, ok := obj[col]
		if !ok {
			return Record{}, &MalformedRecordError{Index: index, Field: col}
		}
		if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			return Record{}, &MalformedRecordError{Index: index, Field: col, Err: errNullField}
		}
	}

	var (
		rec     Record
		dateStr string
	)
	targets := []struct {
		col string
		dst any
	}{
		{ColClientID, &rec.ClientID},
		{ColGender, &rec.Gender},
		{ColPurchaseDate, &dateStr},
		{ColPurchaseTime, &rec.SecondsFromMidnight},
		{ColProductID, &rec.ProductID},
		{ColQuantity, &rec.Quantity},
		{ColPricePerItem, &rec.PricePerItem},
		{ColDiscountPer, &rec.DiscountPerItem},
		{ColTotalPrice, &rec.TotalPrice},
	}
	for _, t := range targets {
		if err := json.Unmarshal(obj[t.col], t.dst); err != nil {
			return Record{}, &MalformedRecordError{Index: index, Field: t.col, Err: err}
		}
	}

	date, err := ParseDate(dateStr)
	if err != nil {
		return Record{}, &MalformedRecordError{Index: index, Field: ColPurchaseDate, Err: err}
	}
	rec.PurchaseDate = date
	return rec, nil
}

// ParseDate accepts a bare ISO date or a full RFC3339 timestamp and returns UTC midnight of that day.
func ParseDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(DateLayout, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", v, err)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// FormatDate renders a date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
