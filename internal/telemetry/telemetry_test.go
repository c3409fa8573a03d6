package telemetry

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), Options{ServiceName: "checkout-service"}, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
