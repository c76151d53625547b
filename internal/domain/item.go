package domain

import "sort"

// TradeItem is an immutable snapshot of a catalog product embedded in a
// trade at offer time. The live product may change or disappear afterwards;
// the snapshot stays authoritative for this trade.
type TradeItem struct {
	ProductID    string    `json:"product_id"`
	Side         TradeRole `json:"side"`
	Quantity     int       `json:"quantity"`
	Title        string    `json:"title"`
	ImageURL     string    `json:"image_url,omitempty"`
	ValueAtTrade Decimal   `json:"value_at_trade"`
}

// ItemRef identifies a product and quantity in a create or counter request,
// before resolution into a snapshot.
type ItemRef struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// ItemRefs projects snapshots back to their product references.
func ItemRefs(items []TradeItem) []ItemRef {
	refs := make([]ItemRef, 0, len(items))
	for _, it := range items {
		refs = append(refs, ItemRef{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return refs
}

// ItemRefsEqual compares two reference lists as multisets: the same products
// in the same quantities, regardless of order.
func ItemRefsEqual(a, b []ItemRef) bool {
	if len(a) != len(b) {
		return false
	}
	as := make([]ItemRef, len(a))
	bs := make([]ItemRef, len(b))
	copy(as, a)
	copy(bs, b)
	byProduct := func(refs []ItemRef) func(i, j int) bool {
		return func(i, j int) bool {
			if refs[i].ProductID != refs[j].ProductID {
				return refs[i].ProductID < refs[j].ProductID
			}
			return refs[i].Quantity < refs[j].Quantity
		}
	}
	sort.Slice(as, byProduct(as))
	sort.Slice(bs, byProduct(bs))
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// SumItemValues totals valueAtTrade x quantity across the given snapshots.
func SumItemValues(items []TradeItem) (Decimal, error) {
	var total Decimal
	for _, it := range items {
		var line Decimal
		qty := NewDecimal(int64(it.Quantity), 0)
		if _, err := DecimalContext.Mul(&line.Decimal, &it.ValueAtTrade.Decimal, &qty.Decimal); err != nil {
			return Decimal{}, err
		}
		if _, err := DecimalContext.Add(&total.Decimal, &total.Decimal, &line.Decimal); err != nil {
			return Decimal{}, err
		}
	}
	return total, nil
}
