package vault

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flecs-technologies/flecs-core/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testApp(key types.AppKey) types.App {
	return types.App{Key: key, Status: types.AppInstalled, Desired: types.AppInstalled}
}

func TestOpenCreatesDirectories(t *testing.T) {
	base := t.TempDir()
	v, err := Open(base)
	require.NoError(t, err)
	assert.NotNil(t, v)

	_, err = os.Stat(filepath.Join(base, "apps"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(base, "instances"))
	assert.NoError(t, err)
}

func TestAppRoundTripsThroughFlushAndReload(t *testing.T) {
	base := t.TempDir()
	v, err := Open(base)
	require.NoError(t, err)

	key := types.AppKey{Name: "test", Version: "1.0.0"}
	guard := v.Reservation().ReserveApps(true).Grab()
	guard.AppPouchMut().GemsMut()[key] = testApp(key)
	require.NoError(t, guard.Release())

	path := filepath.Join(base, "apps", "test@1.0.0.json")
	_, err = os.Stat(path)
	require.NoError(t, err)

	reloaded, err := Open(base)
	require.NoError(t, err)
	readGuard := reloaded.Reservation().ReserveApps(false).Grab()
	app, ok := readGuard.AppPouch().Gems()[key]
	require.True(t, ok)
	assert.Equal(t, types.AppInstalled, app.Status)
	require.NoError(t, readGuard.Release())
}

func TestDeletingAppRemovesItsFile(t *testing.T) {
	base := t.TempDir()
	v, err := Open(base)
	require.NoError(t, err)
	key := types.AppKey{Name: "test", Version: "1.0.0"}

	guard := v.Reservation().ReserveApps(true).Grab()
	guard.AppPouchMut().GemsMut()[key] = testApp(key)
	require.NoError(t, guard.Release())

	guard = v.Reservation().ReserveApps(true).Grab()
	delete(guard.AppPouchMut().GemsMut(), key)
	require.NoError(t, guard.Release())

	_, err = os.Stat(filepath.Join(base, "apps", "test@1.0.0.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestCorruptRecordIsMovedAsideAtLoad(t *testing.T) {
	base := t.TempDir()
	appsDir := filepath.Join(base, "apps")
	require.NoError(t, os.MkdirAll(appsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(appsDir, "broken@1.0.0.json"), []byte("not json"), 0o644))

	v, err := Open(base)
	require.NoError(t, err)
	guard := v.Reservation().ReserveApps(false).Grab()
	assert.Empty(t, guard.AppPouch().Gems())
	require.NoError(t, guard.Release())

	_, err = os.Stat(filepath.Join(appsDir, "broken@1.0.0.json.broken"))
	assert.NoError(t, err)
}

func TestAccessingUndeclaredPouchPanics(t *testing.T) {
	base := t.TempDir()
	v, err := Open(base)
	require.NoError(t, err)
	guard := v.Reservation().ReserveApps(false).Grab()
	defer guard.Release()

	assert.Panics(t, func() {
		guard.InstancePouch()
	})
}

func TestMutatingThroughSharedReservationPanics(t *testing.T) {
	base := t.TempDir()
	v, err := Open(base)
	require.NoError(t, err)
	guard := v.Reservation().ReserveApps(false).Grab()
	defer guard.Release()

	assert.Panics(t, func() {
		guard.AppPouchMut()
	})
}

func TestInstanceIDAllocationPicksSmallestFree(t *testing.T) {
	base := t.TempDir()
	v, err := Open(base)
	require.NoError(t, err)

	guard := v.Reservation().ReserveInstances(true).Grab()
	pouch := guard.InstancePouchMut()
	first := pouch.NextFreeID()
	assert.Equal(t, types.InstanceId(1), first)
	pouch.GemsMut()[first] = types.Instance{ID: first}

	second := pouch.NextFreeID()
	assert.Equal(t, types.InstanceId(2), second)
	pouch.GemsMut()[second] = types.Instance{ID: second}

	delete(pouch.GemsMut(), first)
	assert.Equal(t, types.InstanceId(1), pouch.NextFreeID())

	require.NoError(t, guard.Release())
}

func TestAtomicAcquisitionAcrossPouches(t *testing.T) {
	base := t.TempDir()
	v, err := Open(base)
	require.NoError(t, err)

	guard := v.Reservation().ReserveApps(true).ReserveInstances(true).Grab()

	acquired := make(chan struct{})
	go func() {
		other := v.Reservation().ReserveApps(false).Grab()
		close(acquired)
		other.Release()
	}()

	select {
	case <-acquired:
		t.Fatal("concurrent reservation acquired apps pouch while a mutable guard held it")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, guard.Release())

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("concurrent reservation never acquired apps pouch after release")
	}
}
