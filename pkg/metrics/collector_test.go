package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/flecs-technologies/flecs-core/pkg/quest"
	"github.com/flecs-technologies/flecs-core/pkg/types"
	"github.com/flecs-technologies/flecs-core/pkg/vault"
	"github.com/stretchr/testify/require"
)

func newTestVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.Open(t.TempDir())
	require.NoError(t, err)
	return v
}

func TestCollectorCollectDoesNotPanic(t *testing.T) {
	v := newTestVault(t)

	guard := v.Reservation().ReserveApps(true).ReserveInstances(true).Grab()
	guard.AppPouchMut().GemsMut()[types.AppKey{Name: "demo", Version: "1.0.0"}] = types.App{
		Key:    types.AppKey{Name: "demo", Version: "1.0.0"},
		Status: types.AppInstalled,
	}
	instanceID := guard.InstancePouchMut().NextFreeID()
	guard.InstancePouchMut().GemsMut()[instanceID] = types.Instance{
		ID:     instanceID,
		Status: types.InstanceRunning,
	}
	require.NoError(t, guard.Release())

	registry := quest.New(4, time.Minute)
	registry.ScheduleQuest(context.Background(), "warm up", func(h *quest.Handle) error { return nil })

	c := NewCollector(v, registry)
	require.NotPanics(t, func() { c.collect() })
}

func TestCollectorStartStop(t *testing.T) {
	v := newTestVault(t)
	registry := quest.New(4, time.Minute)
	c := NewCollector(v, registry)
	c.Start()
	c.Stop()
}
