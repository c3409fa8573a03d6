package inventory

import (
	"context"
	"fmt"
	"sort"
)

// Checker is the non-binding stock precheck. It holds nothing; concurrent
// callers may both pass and still lose the race at reservation time.
type Checker struct {
	stock StockReader
}

func NewChecker(stock StockReader) *Checker {
	return &Checker{stock: stock}
}

func (c *Checker) Check(ctx context.Context, lines []Line) (Availability, error) {
	merged, err := NormalizeLines(lines)
	if err != nil {
		return Availability{}, err
	}

	ids := variantIDs(merged)
	onHand, err := c.stock.OnHand(ctx, ids)
	if err != nil {
		return Availability{}, fmt.Errorf("check availability: %w", err)
	}

	var short []Shortfall
	for _, line := range merged {
		if have := onHand[line.VariantID]; have < line.Quantity {
			short = append(short, Shortfall{VariantID: line.VariantID, Requested: line.Quantity, Available: max(have, 0)})
		}
	}
	if len(short) == 0 {
		return Availability{Available: true}, nil
	}

	if err := fillTitles(ctx, c.stock, short); err != nil {
		return Availability{}, err
	}
	return Availability{Available: false, Insufficient: short}, nil
}

// NormalizeLines validates lines, sums duplicates per variant and returns them
// in ascending variant order.
func NormalizeLines(lines []Line) ([]Line, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: no items", ErrInvalidLine)
	}

	totals := make(map[int64]int, len(lines))
	for _, line := range lines {
		if line.VariantID <= 0 {
			return nil, fmt.Errorf("%w: variantId must be positive", ErrInvalidLine)
		}
		if line.Quantity < MinLineQuantity || line.Quantity > MaxLineQuantity {
			return nil, fmt.Errorf("%w: quantity for variant %d must be between %d and %d",
				ErrInvalidLine, line.VariantID, MinLineQuantity, MaxLineQuantity)
		}
		totals[line.VariantID] += line.Quantity
	}

	out := make([]Line, 0, len(totals))
	for id, qty := range totals {
		out = append(out, Line{VariantID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantID < out[j].VariantID })
	return out, nil
}

func variantIDs(lines []Line) []int64 {
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.VariantID)
	}
	return ids
}

func fillTitles(ctx context.Context, stock StockReader, short []Shortfall) error {
	ids := make([]int64, 0, len(short))
	for _, s := range short {
		ids = append(ids, s.VariantID)
	}
	titles, err := stock.Titles(ctx, ids)
	if err != nil {
		return fmt.Errorf("load titles: %w", err)
	}
	for i := range short {
		short[i].Title = titles[short[i].VariantID]
	}
	return nil
}
