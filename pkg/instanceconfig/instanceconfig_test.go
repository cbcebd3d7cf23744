package instanceconfig

import (
	"testing"

	"github.com/flecs-technologies/flecs-core/pkg/apierr"
	"github.com/flecs-technologies/flecs-core/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestValidateEnvironmentOk(t *testing.T) {
	vars := []types.EnvironmentVariable{{Name: "A"}, {Name: "B", Value: strPtr("x")}}
	assert.NoError(t, ValidateEnvironment(vars))
}

func TestValidateEnvironmentDuplicate(t *testing.T) {
	vars := []types.EnvironmentVariable{{Name: "VAR_1"}, {Name: "VAR_1", Value: strPtr("x")}}
	err := ValidateEnvironment(vars)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Duplicate environment variable name: VAR_1")
	e, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindValidation, e.Kind)
}

func TestPutEnvironmentVariableCreatedThenUpdated(t *testing.T) {
	cfg := types.NewInstanceConfig()
	result := PutEnvironmentVariable(&cfg, types.EnvironmentVariable{Name: "FOO", Value: strPtr("1")})
	assert.Equal(t, Created, result)

	result = PutEnvironmentVariable(&cfg, types.EnvironmentVariable{Name: "FOO", Value: strPtr("2")})
	assert.Equal(t, Updated, result)

	v, ok := GetEnvironmentVariable(&cfg, "FOO")
	require.True(t, ok)
	assert.Equal(t, "2", *v.Value)
}

func TestDeleteEnvironmentVariable(t *testing.T) {
	cfg := types.NewInstanceConfig()
	assert.False(t, DeleteEnvironmentVariable(&cfg, "MISSING"))

	PutEnvironmentVariable(&cfg, types.EnvironmentVariable{Name: "FOO"})
	assert.True(t, DeleteEnvironmentVariable(&cfg, "FOO"))
	_, ok := GetEnvironmentVariable(&cfg, "FOO")
	assert.False(t, ok)
}

func TestPutUsbDevice(t *testing.T) {
	cfg := types.NewInstanceConfig()
	result := PutUsbDevice(&cfg, types.UsbBinding{HostPort: "usb1"})
	assert.Equal(t, Created, result)
	result = PutUsbDevice(&cfg, types.UsbBinding{HostPort: "usb1", VendorID: "1234"})
	assert.Equal(t, Updated, result)
	assert.Equal(t, "1234", cfg.UsbDevices["usb1"].VendorID)
}

func TestDeleteUsbDevice(t *testing.T) {
	cfg := types.NewInstanceConfig()
	assert.False(t, DeleteUsbDevice(&cfg, "usb1"))
	PutUsbDevice(&cfg, types.UsbBinding{HostPort: "usb1"})
	assert.True(t, DeleteUsbDevice(&cfg, "usb1"))
	assert.False(t, DeleteUsbDevice(&cfg, "usb1"))
}

func mustRange(t *testing.T, start, end uint16) types.PortRange {
	t.Helper()
	r, err := types.NewPortRange(start, end)
	require.NoError(t, err)
	return r
}

// TestPortMappingScenarioS2 mirrors spec scenario S2: preload tcp
// Single(80,8080) and udp Range(50..=100 -> 150..=200), then PUT a new
// tcp single, which is created, and a udp single on host port 80, which is
// rejected because 80 lies inside the udp range 50..=100.
func TestPortMappingScenarioS2(t *testing.T) {
	single8080, err := types.NewSinglePortMapping(80, 8080)
	require.NoError(t, err)
	udpRange, err := types.NewRangePortMapping(mustRange(t, 50, 100), mustRange(t, 150, 200))
	require.NoError(t, err)

	set := types.PortMappingSet{
		TCP: []types.PortMapping{single8080},
		UDP: []types.PortMapping{udpRange},
	}

	set, result, err := PutPortMappingRange(set, types.ProtocolTCP, mustRange(t, 70, 70), mustRange(t, 20, 20))
	require.NoError(t, err)
	assert.Equal(t, Created, result)
	assert.Len(t, set.TCP, 2)

	_, _, err = PutPortMappingRange(set, types.ProtocolUDP, mustRange(t, 80, 80), mustRange(t, 20, 20))
	require.Error(t, err)
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
	assert.Len(t, set.UDP, 1)
}

// TestPortMappingScenarioS3 mirrors spec scenario S3: DELETE a host range
// that does not match exactly fails, an exact match succeeds and empties
// the list.
func TestPortMappingScenarioS3(t *testing.T) {
	udpRange, err := types.NewRangePortMapping(mustRange(t, 50, 100), mustRange(t, 50, 100))
	require.NoError(t, err)
	set := types.PortMappingSet{UDP: []types.PortMapping{udpRange}}

	_, ok := DeletePortMappingRange(set, types.ProtocolUDP, mustRange(t, 20, 70))
	assert.False(t, ok)

	set, ok = DeletePortMappingRange(set, types.ProtocolUDP, mustRange(t, 50, 100))
	assert.True(t, ok)
	assert.Empty(t, set.UDP)
}

func TestPutPortMappingRangeSizeMismatch(t *testing.T) {
	set := types.PortMappingSet{}
	_, _, err := PutPortMappingRange(set, types.ProtocolTCP, mustRange(t, 100, 110), mustRange(t, 200, 205))
	require.Error(t, err)
	e, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindValidation, e.Kind)
}

func TestPutPortMappingRangeOverlapExcludesSelf(t *testing.T) {
	m, err := types.NewRangePortMapping(mustRange(t, 50, 100), mustRange(t, 50, 100))
	require.NoError(t, err)
	set := types.PortMappingSet{TCP: []types.PortMapping{m}}

	// replacing the exact same host range in place must not be rejected
	// as overlapping itself.
	set, result, err := PutPortMappingRange(set, types.ProtocolTCP, mustRange(t, 50, 100), mustRange(t, 60, 110))
	require.NoError(t, err)
	assert.Equal(t, Updated, result)
	assert.Len(t, set.TCP, 1)
}

func TestPutPortMappingListValidatesWholeList(t *testing.T) {
	single, err := types.NewSinglePortMapping(80, 8080)
	require.NoError(t, err)
	overlap, err := types.NewSinglePortMapping(80, 9090)
	require.NoError(t, err)

	_, err = PutPortMappingList(types.PortMappingSet{}, types.ProtocolTCP, []types.PortMapping{single, overlap})
	assert.Error(t, err)
}
