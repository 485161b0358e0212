// Package disclosure derives customer-safe views of sensitive stock data.
// Customers never see raw quantities: availability is banded and partial
// fulfilment is reported as a decile range.
package disclosure

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// DefaultLowStockThreshold is the quantity at or below which stock is LOW.
const DefaultLowStockThreshold = 10

// Availability enum
type Availability string

const (
	InStock    Availability = "IN_STOCK"
	LowStock   Availability = "LOW_STOCK"
	OutOfStock Availability = "OUT_OF_STOCK"
)

// Level tags which view of a record was emitted.
type Level string

const (
	LevelFull     Level = "FULL"
	LevelCustomer Level = "CUSTOMER"
)

// LevelKey is the map key every disclosed view carries.
const LevelKey = "_disclosureLevel"

var privilegedRoles = map[string]bool{
	"admin":     true,
	"warehouse": true,
	"owner":     true,
}

// IsPrivileged reports whether role may see FULL records.
func IsPrivileged(role string) bool {
	return privilegedRoles[strings.ToLower(strings.TrimSpace(role))]
}

// StockRecord is the raw source record a stock tool handler resolves.
type StockRecord struct {
	ProductName      string         `json:"product_name"`
	SKU              string         `json:"sku"`
	InStock          bool           `json:"in_stock"`
	Quantity         *int           `json:"quantity,omitempty"`
	Price            *float64       `json:"price,omitempty"`
	Currency         string         `json:"currency,omitempty"`
	EstimatedRestock string         `json:"estimated_restock,omitempty"`
	Extra            map[string]any `json:"extra,omitempty"`
}

// Options controls how a record is disclosed.
type Options struct {
	UserRole          string
	RequestedQty      int
	LowStockThreshold int
}

func (o Options) threshold() int {
	if o.LowStockThreshold <= 0 {
		return DefaultLowStockThreshold
	}
	return o.LowStockThreshold
}

// DeriveAvailabilityStatus bands stock into IN_STOCK, LOW_STOCK or
// OUT_OF_STOCK. A nil quantity means the count is unknown.
func DeriveAvailabilityStatus(inStock bool, quantity *int, lowStockThreshold int) Availability {
	if lowStockThreshold <= 0 {
		lowStockThreshold = DefaultLowStockThreshold
	}
	if !inStock {
		return OutOfStock
	}
	if quantity == nil {
		return InStock
	}
	if *quantity <= 0 {
		return OutOfStock
	}
	if *quantity <= lowStockThreshold {
		return LowStock
	}
	return InStock
}

// ApplyDisclosurePolicy returns the role-appropriate view of r. Privileged
// roles get every field tagged FULL; everyone else gets a CUSTOMER view in
// which the quantity key does not exist.
func ApplyDisclosurePolicy(r StockRecord, opts Options) map[string]any {
	if IsPrivileged(opts.UserRole) {
		return fullView(r)
	}
	return customerView(r, opts)
}

func fullView(r StockRecord) map[string]any {
	out := map[string]any{
		"product_name": r.ProductName,
		"sku":          r.SKU,
		"in_stock":     r.InStock,
		LevelKey:       LevelFull,
	}
	if r.Quantity != nil {
		out["quantity"] = *r.Quantity
	}
	if r.Price != nil {
		out["price"] = *r.Price
	}
	if r.Currency != "" {
		out["currency"] = r.Currency
	}
	if r.EstimatedRestock != "" {
		out["estimated_restock"] = r.EstimatedRestock
	}
	for k, v := range r.Extra {
		if _, taken := out[k]; !taken {
			out[k] = v
		}
	}
	return out
}

func customerView(r StockRecord, opts Options) map[string]any {
	avail := DeriveAvailabilityStatus(r.InStock, r.Quantity, opts.threshold())
	out := map[string]any{
		"product_name": r.ProductName,
		"sku":          r.SKU,
		"availability": avail,
		LevelKey:       LevelCustomer,
	}
	if r.Price != nil {
		out["price"] = *r.Price
		if r.Currency != "" {
			out["currency"] = r.Currency
		}
	}
	if avail == OutOfStock && r.EstimatedRestock != "" {
		out["estimated_restock"] = r.EstimatedRestock
	}
	if opts.RequestedQty > 0 {
		available := r.Quantity
		if !r.InStock {
			zero := 0
			available = &zero
		}
		out["quantity_check"] = CheckQuantityFulfillment(available, opts.RequestedQty)
	}
	return out
}

// sensitiveKeys never leave FilterRecord for non-privileged callers. Keys
// are compared after normalizeKey.
var sensitiveKeys = map[string]bool{
	"costprice":     true,
	"supplier":      true,
	"internalnotes": true,
	"passwordhash":  true,
	"apikey":        true,
}

// stockMarkers flag a numeric field as a stock count whatever its spelling:
// stockQuantity, available_qty, Inventory, stock-count.
var stockMarkers = []string{"qty", "quantity", "stock", "inventory"}

// normalizeKey lowercases k and drops "_" and "-".
func normalizeKey(k string) string {
	return strings.NewReplacer("_", "", "-", "").Replace(strings.ToLower(k))
}

func isStockKey(nk string) bool {
	for _, m := range stockMarkers {
		if strings.Contains(nk, m) {
			return true
		}
	}
	return false
}

// numeric reports whether v is a number or a string holding one.
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// FilterRecord applies the policy to a generic record such as an order. For
// customers, keys starting with "_", known sensitive keys and every numeric
// stock-like field are removed, nested maps included; the first stock count
// (by key order) becomes a banded availability.
func FilterRecord(rec map[string]any, opts Options) map[string]any {
	if IsPrivileged(opts.UserRole) {
		out := make(map[string]any, len(rec)+1)
		for k, v := range rec {
			out[k] = v
		}
		out[LevelKey] = LevelFull
		return out
	}
	out := filterCustomer(rec)
	if q, ok := quantityOf(rec); ok {
		inStock := q > 0
		for k, v := range rec {
			if b, isBool := v.(bool); isBool && normalizeKey(k) == "instock" {
				inStock = b
			}
		}
		out["availability"] = DeriveAvailabilityStatus(inStock, &q, opts.threshold())
	}
	out[LevelKey] = LevelCustomer
	return out
}

func filterCustomer(rec map[string]any) map[string]any {
	out := make(map[string]any, len(rec)+1)
	for k, v := range rec {
		nk := normalizeKey(k)
		if strings.HasPrefix(k, "_") || sensitiveKeys[nk] {
			continue
		}
		if _, isNum := numeric(v); isNum && isStockKey(nk) {
			continue
		}
		out[k] = filterValue(v)
	}
	return out
}

func filterValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return filterCustomer(t)
	case []any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = filterValue(e)
		}
		return cp
	case []map[string]any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = filterCustomer(e)
		}
		return cp
	}
	return v
}

// quantityOf returns the top-level stock count with the smallest key.
func quantityOf(rec map[string]any) (int, bool) {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !isStockKey(normalizeKey(k)) {
			continue
		}
		if f, ok := numeric(rec[k]); ok {
			return int(f), true
		}
	}
	return 0, false
}
