package floxy

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/flecs-technologies/flecs-core/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const expectedTripleConfig = `
location /flecs/instances/1234abcd/editor/5000/ {
  proxy_pass http://123.123.234.234:5000/;
  proxy_redirect / /flecs/instances/1234abcd/editor/5000/;

  include conf.d/include/proxy_headers.conf;

  client_max_body_size 0;
  client_body_timeout 30m;
}
location /flecs/instances/1234abcd/editor/6000/ {
  proxy_pass http://123.123.234.234:6000/;
  proxy_redirect / /flecs/instances/1234abcd/editor/6000/;

  include conf.d/include/proxy_headers.conf;

  client_max_body_size 0;
  client_body_timeout 30m;
}
location /flecs/instances/1234abcd/editor/7000/ {
  proxy_pass http://123.123.234.234:7000/;
  proxy_redirect / /flecs/instances/1234abcd/editor/7000/;

  include conf.d/include/proxy_headers.conf;

  client_max_body_size 0;
  client_body_timeout 30m;
}`

func testInstanceID(t *testing.T) types.InstanceId {
	t.Helper()
	return types.InstanceId(0x1234abcd)
}

func newTestFloxy(t *testing.T) (*Floxy, Config) {
	t.Helper()
	base := t.TempDir()
	cfg := Config{
		BasePath:    base,
		InstanceDir: filepath.Join(base, "instances"),
		ServerDir:   filepath.Join(base, "servers"),
	}
	return New(cfg), cfg
}

func TestCreateInstanceReverseProxyConfigBitExact(t *testing.T) {
	config := createInstanceReverseProxyConfig(testInstanceID(t), "123.123.234.234", []uint16{5000, 6000, 7000}, nil)
	assert.Equal(t, expectedTripleConfig, config)
}

func TestAddInstanceReverseProxyConfigNew(t *testing.T) {
	f, cfg := newTestFloxy(t)
	require.NoError(t, f.AddInstanceReverseProxyConfig("test_app", testInstanceID(t), "123.123.234.234", []uint16{5000, 6000, 7000}, nil))

	path := filepath.Join(cfg.InstanceDir, "test_app-1234abcd.conf")
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, expectedTripleConfig, string(content))
}

func TestAddInstanceReverseProxyConfigUnchanged(t *testing.T) {
	f, cfg := newTestFloxy(t)
	require.NoError(t, os.MkdirAll(cfg.InstanceDir, 0o755))
	path := filepath.Join(cfg.InstanceDir, "test_app-1234abcd.conf")
	require.NoError(t, os.WriteFile(path, []byte(expectedTripleConfig), 0o644))

	require.NoError(t, f.AddInstanceReverseProxyConfig("test_app", testInstanceID(t), "123.123.234.234", []uint16{5000, 6000, 7000}, nil))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, expectedTripleConfig, string(content))
}

func TestAddInstanceReverseProxyConfigChanged(t *testing.T) {
	f, cfg := newTestFloxy(t)
	require.NoError(t, os.MkdirAll(cfg.InstanceDir, 0o755))
	path := filepath.Join(cfg.InstanceDir, "test_app-1234abcd.conf")
	require.NoError(t, os.WriteFile(path, []byte("stale config"), 0o644))

	require.NoError(t, f.AddInstanceReverseProxyConfig("test_app", testInstanceID(t), "123.123.234.234", []uint16{5000, 6000, 7000}, nil))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, expectedTripleConfig, string(content))
}

func TestDeleteReverseProxyConfigNotExisting(t *testing.T) {
	f, _ := newTestFloxy(t)
	assert.NoError(t, f.DeleteReverseProxyConfig("test_app", testInstanceID(t)))
}

func TestDeleteReverseProxyConfigOk(t *testing.T) {
	f, cfg := newTestFloxy(t)
	require.NoError(t, f.AddInstanceReverseProxyConfig("test_app", testInstanceID(t), "1.2.3.4", []uint16{1000}, nil))
	require.NoError(t, f.DeleteReverseProxyConfig("test_app", testInstanceID(t)))

	path := filepath.Join(cfg.InstanceDir, "test_app-1234abcd.conf")
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestAddInstanceEditorRedirectToFreePortBindsImmediately(t *testing.T) {
	f, _ := newTestFloxy(t)
	port, err := f.AddInstanceEditorRedirectToFreePort("test_app", testInstanceID(t), "1.2.3.4", 8080)
	require.NoError(t, err)
	assert.NotZero(t, port)

	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	require.NoError(t, err)
	require.NoError(t, l.Close())
}

func TestClearInstanceConfigsRemovesOnlyConfFiles(t *testing.T) {
	f, cfg := newTestFloxy(t)
	require.NoError(t, os.MkdirAll(cfg.InstanceDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.InstanceDir, "a.conf"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.InstanceDir, "b.txt"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.InstanceDir, "subdir.conf"), 0o755))

	require.NoError(t, f.ClearInstanceConfigs())

	_, err := os.Stat(filepath.Join(cfg.InstanceDir, "a.conf"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(cfg.InstanceDir, "b.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(cfg.InstanceDir, "subdir.conf"))
	assert.NoError(t, err)
}

func TestAddReverseProxyConfigRefusesOutsideBasePath(t *testing.T) {
	f, _ := newTestFloxy(t)
	_, err := f.addReverseProxyConfig("content", "/tmp/outside-floxy-base/some.conf")
	assert.Error(t, err)
}

func TestDeleteConfigEntryRefusesOutsideBasePath(t *testing.T) {
	f, cfg := newTestFloxy(t)
	_ = cfg
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.conf"), []byte("x"), 0o644))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	err = f.deleteConfigEntry(filepath.Join(dir, "a.conf"), entries[0])
	assert.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "a.conf"))
	assert.NoError(t, statErr, "file outside the base path must not be removed")
}

func TestDeleteServerProxyConfigsMissingFilesSucceed(t *testing.T) {
	f, _ := newTestFloxy(t)
	// none of these exist, so deleteFile reports no error for any of them;
	// aggregate call must still succeed.
	err := f.DeleteServerProxyConfigs("test_app", testInstanceID(t), []uint16{1, 2, 3})
	assert.NoError(t, err)
}
