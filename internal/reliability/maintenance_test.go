package reliability

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tickerpulse/core/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(store.Config{Path: "file::memory:?cache=shared"})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestMaintenanceService_RunDaily(t *testing.T) {
	st := newTestStore(t)
	svc := NewMaintenanceService(st, zerolog.Nop())

	err := svc.RunDaily(context.Background())
	require.NoError(t, err)
}

func TestMaintenanceService_RunWeekly(t *testing.T) {
	st := newTestStore(t)
	svc := NewMaintenanceService(st, zerolog.Nop())

	err := svc.RunWeekly(context.Background())
	require.NoError(t, err)
}
