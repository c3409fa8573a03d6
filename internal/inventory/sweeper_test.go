package inventory_test

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/alert"
	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/clock"
	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/inventory"
	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/inventory/inventorytest"
)

type fakeOrders struct {
	refs      map[int64]string
	cancelled []int64
}

func (f *fakeOrders) PaymentReference(_ context.Context, orderID int64) (string, bool, error) {
	ref, ok := f.refs[orderID]
	return ref, ok, nil
}

func (f *fakeOrders) CancelAbandoned(_ context.Context, orderID int64) error {
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

type fakeAlerts struct {
	orders []int64
	steps  []string
}

func (f *fakeAlerts) Record(_ context.Context, orderID int64, step, _ string) error {
	f.orders = append(f.orders, orderID)
	f.steps = append(f.steps, step)
	return nil
}

type fakePurger struct{ n int64 }

func (f fakePurger) PurgeExpired(context.Context) (int64, error) { return f.n, nil }

func TestSweeper_SweepOnce(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	ledger := inventorytest.NewLedger()
	ledger.Now = clk.Now
	ledger.Seed(1, "Plate", 10)
	ledger.Seed(2, "Bowl", 10)

	coord := inventory.NewCoordinator(ledger, nil, log.New(io.Discard, "", 0))
	for orderID, qty := range map[int64]int{100: 2, 101: 3, 102: 1} {
		_, err := coord.Reserve(ctx, orderID, []inventory.Line{{VariantID: 1, Quantity: qty}, {VariantID: 2, Quantity: 1}})
		require.NoError(t, err)
	}
	clk.Advance(45 * time.Minute)
	// still fresh at sweep time
	_, err := coord.Reserve(ctx, 103, []inventory.Line{{VariantID: 1, Quantity: 1}})
	require.NoError(t, err)

	orders := &fakeOrders{refs: map[int64]string{
		101: "",            // never reached the provider
		102: "pi_3Nx0ab12", // payment in flight
		103: "",
	}}
	alerts := &fakeAlerts{}
	sweeper := inventory.NewSweeper(coord, ledger, orders, alerts, fakePurger{n: 4}, clk,
		inventory.SweeperConfig{Interval: time.Minute, TTL: 30 * time.Minute}, log.New(io.Discard, "", 0))

	rep, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)

	// order 100 is gone and order 101 never got a payment reference: both released
	assert.Equal(t, int64(4), rep.Released)
	assert.Equal(t, 1, rep.Escalated)
	assert.Equal(t, int64(4), rep.Purged)
	assert.ElementsMatch(t, []int64{100, 101}, orders.cancelled)
	assert.Equal(t, []int64{102}, alerts.orders)
	assert.Equal(t, []string{alert.StepSweep}, alerts.steps)
	assert.Equal(t, 10-1-1, ledger.Level(1), "holds of 102 and 103 remain")
	assert.Equal(t, 10-1, ledger.Level(2))

	// a second pass does not escalate the same hold again
	rep, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Released)
	assert.Zero(t, rep.Escalated)
	assert.Len(t, alerts.orders, 1)
	assert.Equal(t, 1, sweeper.EscalatedCount())

	// once the payment lands the hold is no longer stale and is forgotten
	_, err = coord.Consume(ctx, 102)
	require.NoError(t, err)
	_, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, sweeper.EscalatedCount())
}

func TestSweeper_RunDisabled(t *testing.T) {
	sweeper := inventory.NewSweeper(nil, nil, nil, nil, nil, clock.NewSystem(), inventory.SweeperConfig{}, log.New(io.Discard, "", 0))

	done := make(chan struct{})
	go func() {
		sweeper.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled sweeper should return immediately")
	}
}
