// Package floxy generates, updates, and removes the small nginx-style
// config fragments an external reverse proxy reads to route instance web
// UIs, per spec §4.4. Grounded bit-for-bit on
// original_source/flecs-core/src/relic/floxy/floxy_impl.rs: the template
// strings, the idempotent read-compare-then-write, the base-path
// containment check before any mutation, and the shallow (one directory
// level, .conf files/symlinks only) clearing behavior are all carried
// over unchanged in meaning. Style (structured logging, error wrapping)
// follows the teacher's pkg/ingress.
package floxy

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/flecs-technologies/flecs-core/pkg/log"
	"github.com/flecs-technologies/flecs-core/pkg/types"
)

const configExtension = ".conf"

// AdditionalLocation is one extra location to redirect into an instance's
// canonical editor path.
type AdditionalLocation struct {
	Port     uint16
	Location string
}

// Config locates the three directories floxy writes into. BasePath is the
// containment boundary every write and delete is checked against.
type Config struct {
	BasePath    string
	InstanceDir string
	ServerDir   string
}

// Floxy is the reverse-proxy glue subsystem. It holds no state beyond the
// directory configuration; concurrent callers are expected to serialize
// mutations per (app, instance) the way the sorcerer does, by holding an
// instance reservation around every call (spec §5).
type Floxy struct {
	cfg Config
}

// New constructs a Floxy writing under cfg's directories.
func New(cfg Config) *Floxy {
	return &Floxy{cfg: cfg}
}

func instanceEditorLocation(id types.InstanceId, port uint16) string {
	return fmt.Sprintf("/flecs/instances/%s/editor/%d", id, port)
}

func authProviderLocation(id types.InstanceId) string {
	return fmt.Sprintf("/flecs/instances/%s/auth", id)
}

func instanceEditorAPILocation(id types.InstanceId, port uint16) string {
	return fmt.Sprintf("/flecs/instances/%s/editor/%d/api", id, port)
}

// createInstanceConfig renders one location block. The leading newline is
// intentional: concatenating several of these fragments reproduces the
// blank-line-separated file the original implementation produces.
func createInstanceConfig(instanceIP string, destPort uint16, location string) string {
	return fmt.Sprintf(`
location %s/ {
  proxy_pass http://%s:%d/;
  proxy_redirect / %s/;

  include conf.d/include/proxy_headers.conf;

  client_max_body_size 0;
  client_body_timeout 30m;
}`, location, instanceIP, destPort, location)
}

func createLocationConfig(location, additionalLocation string) string {
	return fmt.Sprintf(`
location %s {
  return 307 %s;
}
location ~ ^%s/(.*) {
  return 307 %s/$1;
}`, additionalLocation, location, additionalLocation, location)
}

func createServerConfig(instanceIP string, hostPort, destPort uint16) string {
	return fmt.Sprintf(`
server {
  listen %d;
  location / {
    proxy_pass http://%s:%d/;

    include conf.d/include/proxy_headers.conf;

    client_max_body_size 0;
    client_body_timeout 30m;
  }
}`, hostPort, instanceIP, destPort)
}

// createInstanceReverseProxyConfig concatenates one location block per
// editor port, plus an auth-provider block if present.
func createInstanceReverseProxyConfig(id types.InstanceId, instanceIP string, destPorts []uint16, authProviderPort *uint16) string {
	var b strings.Builder
	for _, port := range destPorts {
		b.WriteString(createInstanceConfig(instanceIP, port, instanceEditorLocation(id, port)))
	}
	if authProviderPort != nil {
		b.WriteString(createInstanceConfig(instanceIP, *authProviderPort, authProviderLocation(id)))
	}
	return b.String()
}

func createAdditionalLocationProxyConfig(id types.InstanceId, locations []AdditionalLocation) string {
	var b strings.Builder
	for _, loc := range locations {
		b.WriteString(createLocationConfig("/api/"+instanceEditorAPILocation(id, loc.Port), loc.Location))
	}
	return b.String()
}

func (f *Floxy) buildServerConfigPath(appName string, instanceID types.InstanceId, hostPort uint16) string {
	return filepath.Join(f.cfg.ServerDir, fmt.Sprintf("%s-%s_%d%s", appName, instanceID, hostPort, configExtension))
}

func (f *Floxy) buildInstanceConfigPath(appName string, instanceID types.InstanceId) string {
	return filepath.Join(f.cfg.InstanceDir, fmt.Sprintf("%s-%s%s", appName, instanceID, configExtension))
}

func (f *Floxy) buildInstanceLocationsConfigPath(appName string, instanceID types.InstanceId) string {
	return filepath.Join(f.cfg.InstanceDir, fmt.Sprintf("%s-%s-locations%s", appName, instanceID, configExtension))
}

// underBasePath reports whether path is base or a descendant of it. Every
// write and delete goes through this check before touching the
// filesystem (spec §4.4 invariant and testable property 7).
func (f *Floxy) underBasePath(path string) bool {
	base := filepath.Clean(f.cfg.BasePath)
	clean := filepath.Clean(path)
	if clean == base {
		return true
	}
	return strings.HasPrefix(clean, base+string(filepath.Separator))
}

// addReverseProxyConfig writes config to path idempotently: if the file
// already exists with byte-identical content, no write occurs. Otherwise the
// content goes to a temporary file that is then renamed over path. Returns
// whether a write happened.
func (f *Floxy) addReverseProxyConfig(config, path string) (bool, error) {
	if !f.underBasePath(path) {
		return false, fmt.Errorf("the config path (%s) has to be inside the floxy base directory", path)
	}
	if existing, err := os.ReadFile(path); err == nil && string(existing) == config {
		return false, nil
	} else if err != nil && !os.IsNotExist(err) {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(config), 0o644); err != nil {
		return false, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return false, err
	}
	return true, nil
}

// AddInstanceReverseProxyConfig writes one location block per editor
// port, plus an auth-provider block if authProviderPort is non-nil, to
// <instance_dir>/<app>-<id>.conf.
func (f *Floxy) AddInstanceReverseProxyConfig(appName string, instanceID types.InstanceId, instanceIP string, destPorts []uint16, authProviderPort *uint16) error {
	config := createInstanceReverseProxyConfig(instanceID, instanceIP, destPorts, authProviderPort)
	path := f.buildInstanceConfigPath(appName, instanceID)
	changed, err := f.addReverseProxyConfig(config, path)
	if err != nil {
		return err
	}
	logger := log.WithInstanceID(instanceID.String())
	if changed {
		logger.Debug().Str("path", path).Msg("wrote instance reverse proxy config")
	} else {
		logger.Debug().Str("path", path).Msg("instance reverse proxy config unchanged")
	}
	return nil
}

// AddAdditionalLocationsProxyConfig writes 307-redirect blocks to
// <instance_dir>/<app>-<id>-locations.conf.
func (f *Floxy) AddAdditionalLocationsProxyConfig(appName string, instanceID types.InstanceId, locations []AdditionalLocation) error {
	config := createAdditionalLocationProxyConfig(instanceID, locations)
	path := f.buildInstanceLocationsConfigPath(appName, instanceID)
	_, err := f.addReverseProxyConfig(config, path)
	return err
}

// deleteFile removes path if it exists; absence is not an error.
func deleteFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("error deleting %s: %w", path, err)
	}
	return nil
}

// DeleteReverseProxyConfig removes the instance reverse-proxy config
// file; absence is not an error.
func (f *Floxy) DeleteReverseProxyConfig(appName string, instanceID types.InstanceId) error {
	return deleteFile(f.buildInstanceConfigPath(appName, instanceID))
}

// DeleteAdditionalLocationsProxyConfig removes the instance's locations
// config file; absence is not an error.
func (f *Floxy) DeleteAdditionalLocationsProxyConfig(appName string, instanceID types.InstanceId) error {
	return deleteFile(f.buildInstanceLocationsConfigPath(appName, instanceID))
}

// AddInstanceRedirect writes a dedicated server block listening on
// srcPort and proxying to destPort, to
// <server_dir>/<app>-<id>_<src>.conf.
func (f *Floxy) AddInstanceRedirect(appName string, instanceID types.InstanceId, instanceIP string, srcPort, destPort uint16) error {
	config := createServerConfig(instanceIP, srcPort, destPort)
	path := f.buildServerConfigPath(appName, instanceID, srcPort)
	_, err := f.addReverseProxyConfig(config, path)
	return err
}

// AddInstanceEditorRedirectToFreePort allocates a free TCP port by
// binding to port 0 on the wildcard address, releasing the socket, then
// installs a redirect to that port. The window between release and the
// caller's own bind is inherently racy (spec §8 testable property 8 only
// guarantees the bind succeeds immediately after the call, under a
// single-host, mostly-idle assumption).
func (f *Floxy) AddInstanceEditorRedirectToFreePort(appName string, instanceID types.InstanceId, instanceIP string, destPort uint16) (uint16, error) {
	freePort, err := getRandomFreePort()
	if err != nil {
		return 0, err
	}
	if err := f.AddInstanceRedirect(appName, instanceID, instanceIP, freePort, destPort); err != nil {
		return 0, err
	}
	return freePort, nil
}

func getRandomFreePort() (uint16, error) {
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("could not determine allocated port")
	}
	return uint16(addr.Port), nil
}

// DeleteServerConfig removes a single server-block redirect file;
// absence is not an error.
func (f *Floxy) DeleteServerConfig(appName string, instanceID types.InstanceId, hostPort uint16) error {
	return deleteFile(f.buildServerConfigPath(appName, instanceID, hostPort))
}

// DeleteServerProxyConfigs removes a server-block file per host port,
// continuing past individual failures and aggregating them into a single
// error.
func (f *Floxy) DeleteServerProxyConfigs(appName string, instanceID types.InstanceId, hostPorts []uint16) error {
	var failures []string
	for _, port := range hostPorts {
		if err := f.DeleteServerConfig(appName, instanceID, port); err != nil {
			failures = append(failures, err.Error())
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return fmt.Errorf("could not delete all server proxy configs: [%s]", strings.Join(failures, ","))
}

// ClearServerConfigs removes every .conf file or symlink directly under
// the server directory. Subdirectories are not recursed into.
func (f *Floxy) ClearServerConfigs() error {
	return f.clearConfigs(f.cfg.ServerDir)
}

// ClearInstanceConfigs removes every .conf file or symlink directly
// under the instance directory. Subdirectories are not recursed into.
func (f *Floxy) ClearInstanceConfigs() error {
	return f.clearConfigs(f.cfg.InstanceDir)
}

func (f *Floxy) clearConfigs(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var failures []string
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if err := f.deleteConfigEntry(path, entry); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", path, err))
		}
	}
	if len(failures) == 0 {
		log.Logger.Info().Str("dir", dir).Msg("all floxy configs deleted")
		return nil
	}
	return fmt.Errorf("could not delete all floxy configs from %s (%s)", dir, strings.Join(failures, ","))
}

// deleteConfigEntry removes path if, and only if, it is inside the floxy
// base directory, is a regular file or symlink (not a directory), and
// has the .conf extension.
func (f *Floxy) deleteConfigEntry(path string, entry os.DirEntry) error {
	if !f.underBasePath(path) {
		return fmt.Errorf("the config path (%s) has to be inside the floxy base directory %s", path, f.cfg.BasePath)
	}
	info, err := entry.Info()
	if err != nil {
		return err
	}
	isSymlink := info.Mode()&os.ModeSymlink != 0
	isRegular := info.Mode().IsRegular()
	if (isSymlink || isRegular) && filepath.Ext(path) == configExtension {
		if err := os.Remove(path); err != nil {
			return err
		}
		log.Logger.Debug().Str("path", path).Msg("removed config entry")
	}
	return nil
}
