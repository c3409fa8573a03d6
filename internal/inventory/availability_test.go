package inventory

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type fakeStock struct {
	onHand map[int64]int
	titles map[int64]string

	onHandErr   error
	onHandCalls int
	lastIDs     []int64
}

func (f *fakeStock) OnHand(_ context.Context, ids []int64) (map[int64]int, error) {
	f.onHandCalls++
	f.lastIDs = ids
	if f.onHandErr != nil {
		return nil, f.onHandErr
	}
	out := make(map[int64]int, len(ids))
	for _, id := range ids {
		out[id] = f.onHand[id]
	}
	return out, nil
}

func (f *fakeStock) Titles(_ context.Context, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))
	for _, id := range ids {
		if t, ok := f.titles[id]; ok {
			out[id] = t
		}
	}
	return out, nil
}

func TestChecker_Check(t *testing.T) {
	ctx := context.Background()
	stock := &fakeStock{
		onHand: map[int64]int{1: 10, 2: 3, 3: -2},
		titles: map[int64]string{1: "Plate", 2: "Bowl", 3: "Cup"},
	}
	checker := NewChecker(stock)

	tests := map[string]struct {
		lines []Line
		want  Availability
	}{
		"all available": {
			lines: []Line{{VariantID: 1, Quantity: 10}, {VariantID: 2, Quantity: 3}},
			want:  Availability{Available: true},
		},
		"reports every shortfall": {
			lines: []Line{{VariantID: 3, Quantity: 1}, {VariantID: 1, Quantity: 1}, {VariantID: 2, Quantity: 4}},
			want: Availability{Insufficient: []Shortfall{
				{VariantID: 2, Title: "Bowl", Requested: 4, Available: 3},
				{VariantID: 3, Title: "Cup", Requested: 1, Available: 0},
			}},
		},
		"duplicates are summed": {
			lines: []Line{{VariantID: 2, Quantity: 2}, {VariantID: 2, Quantity: 2}},
			want: Availability{Insufficient: []Shortfall{
				{VariantID: 2, Title: "Bowl", Requested: 4, Available: 3},
			}},
		},
		"unknown variant has nothing": {
			lines: []Line{{VariantID: 99, Quantity: 1}},
			want: Availability{Insufficient: []Shortfall{
				{VariantID: 99, Requested: 1, Available: 0},
			}},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := checker.Check(ctx, tc.lines)
			if err != nil {
				t.Fatalf("check: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("availability mismatch\ngot  %+v\nwant %+v", got, tc.want)
			}
		})
	}
}

func TestChecker_SingleAggregateQuery(t *testing.T) {
	stock := &fakeStock{onHand: map[int64]int{}}
	checker := NewChecker(stock)

	if _, err := checker.Check(context.Background(), []Line{{VariantID: 3, Quantity: 1}, {VariantID: 1, Quantity: 1}, {VariantID: 3, Quantity: 1}}); err != nil {
		t.Fatalf("check: %v", err)
	}
	if stock.onHandCalls != 1 {
		t.Fatalf("expected one on-hand query, got %d", stock.onHandCalls)
	}
	if !reflect.DeepEqual(stock.lastIDs, []int64{1, 3}) {
		t.Fatalf("expected distinct sorted ids, got %v", stock.lastIDs)
	}
}

func TestChecker_Errors(t *testing.T) {
	ctx := context.Background()

	checker := NewChecker(&fakeStock{})
	if _, err := checker.Check(ctx, []Line{{VariantID: 1, Quantity: 100}}); !errors.Is(err, ErrInvalidLine) {
		t.Fatalf("expected ErrInvalidLine, got %v", err)
	}

	boom := errors.New("db down")
	checker = NewChecker(&fakeStock{onHandErr: boom})
	if _, err := checker.Check(ctx, []Line{{VariantID: 1, Quantity: 1}}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

func TestDeriveStates(t *testing.T) {
	a, b := uuidFor(1), uuidFor(2)
	history := []Movement{
		{VariantID: 1, Delta: 10, Reason: ReasonRestock},
		{VariantID: 1, Delta: -2, Reason: ReasonReservation, Metadata: Metadata{ReservationID: a}},
		{VariantID: 1, Delta: -3, Reason: ReasonReservation, Metadata: Metadata{ReservationID: b}},
		{VariantID: 1, Delta: 2, Reason: ReasonReleased, Metadata: Metadata{ReservationID: a}},
		{VariantID: 1, Delta: -2, Reason: ReasonSale, Metadata: Metadata{ReservationID: a}},
		{VariantID: 2, Delta: -1, Reason: ReasonReservation, Metadata: Metadata{ReservationID: b}},
		{VariantID: 2, Delta: 1, Reason: ReasonReleased, Metadata: Metadata{ReservationID: b}},
	}

	got := DeriveStates(history)
	want := map[HoldKey]ReservationState{
		{ReservationID: a, VariantID: 1}: StateSold,
		{ReservationID: b, VariantID: 1}: StateActive,
		{ReservationID: b, VariantID: 2}: StateReleased,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("states mismatch\ngot  %v\nwant %v", got, want)
	}
}
