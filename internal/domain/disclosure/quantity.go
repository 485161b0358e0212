package disclosure

// Fulfillment enum
type Fulfillment string

const (
	FulfillYes     Fulfillment = "YES"
	FulfillNo      Fulfillment = "NO"
	FulfillPartial Fulfillment = "PARTIAL"
	FulfillUnknown Fulfillment = "UNKNOWN"
)

// QuantityCheck is derived per query and never cached. Range is only set for
// PARTIAL and is a decile band, never the exact count.
type QuantityCheck struct {
	Result    Fulfillment `json:"result"`
	Range     *[2]int     `json:"range,omitempty"`
	Requested int         `json:"requested"`
}

// CheckQuantityFulfillment answers "can you supply requested units?" without
// disclosing the exact available count. A nil available means unknown.
// Requests below one unit are treated as one unit.
func CheckQuantityFulfillment(available *int, requested int) QuantityCheck {
	if requested < 1 {
		requested = 1
	}
	qc := QuantityCheck{Requested: requested}
	switch {
	case available == nil:
		qc.Result = FulfillUnknown
	case *available >= requested:
		qc.Result = FulfillYes
	case *available <= 0:
		qc.Result = FulfillNo
	default:
		qc.Result = FulfillPartial
		r := partialBand(*available)
		qc.Range = &r
	}
	return qc
}

// partialBand returns [max(1, floor(a/10)*10), min(ceil(a/10)*10, a)].
func partialBand(a int) [2]int {
	lo := (a / 10) * 10
	if lo < 1 {
		lo = 1
	}
	hi := ((a + 9) / 10) * 10
	if hi > a {
		hi = a
	}
	return [2]int{lo, hi}
}
