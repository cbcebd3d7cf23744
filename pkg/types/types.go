// Package types defines the persisted and in-memory data model shared by the
// vault, the instance configuration model, and the sorcerer: applications,
// instances, their configuration, and the manifest an app was installed from.
package types

import (
	"fmt"
	"time"
)

// AppKey identifies a manifest uniquely by name and version.
type AppKey struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// String renders the key as "<name>-<version>", the form log fields and
// error messages use.
func (k AppKey) String() string {
	return fmt.Sprintf("%s-%s", k.Name, k.Version)
}

// AppStatus is an observed fact about an App's installation progress.
type AppStatus string

const (
	AppNotInstalled      AppStatus = "not-installed"
	AppManifestDownloaded AppStatus = "manifest-downloaded"
	AppTokenAcquired      AppStatus = "token-acquired"
	AppImageDownloaded    AppStatus = "image-downloaded"
	AppInstalled          AppStatus = "installed"
	AppRemoved            AppStatus = "removed"
	AppPurged             AppStatus = "purged"
	AppOrphaned           AppStatus = "orphaned"
	AppUnknown            AppStatus = "unknown"
)

// EditorSpec describes a web UI exposed by an instance on a container port.
type EditorSpec struct {
	Name                 string `json:"name"`
	Port                 uint16 `json:"port"`
	SupportsReverseProxy bool   `json:"supports_reverse_proxy"`
}

// DeploymentRef is an opaque handle an App keeps for each image/deployment
// artifact the driver produced while installing it.
type DeploymentRef struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// Manifest is the declarative description an App was installed from.
type Manifest struct {
	Key           AppKey                  `json:"key" yaml:"-"`
	Image         string                  `json:"image" yaml:"image"`
	Revision      string                  `json:"revision,omitempty" yaml:"revision,omitempty"`
	MultiInstance bool                    `json:"multi_instance" yaml:"multiInstance"`
	Editors       []EditorSpec            `json:"editors,omitempty" yaml:"editors,omitempty"`
	DefaultEnv    []EnvironmentVariable   `json:"default_env,omitempty" yaml:"defaultEnv,omitempty"`
	DefaultPorts  PortMappingSet          `json:"default_ports,omitempty" yaml:"defaultPorts,omitempty"`
	DefaultLabels []Label                 `json:"default_labels,omitempty" yaml:"defaultLabels,omitempty"`
}

// App is an installed application, keyed by (name, version).
type App struct {
	Key                AppKey          `json:"key"`
	Status             AppStatus       `json:"status"`
	Desired            AppStatus       `json:"desired"`
	Manifest           Manifest        `json:"manifest"`
	InstalledSizeBytes uint64          `json:"installed_size_bytes"`
	Deployments        []DeploymentRef `json:"deployments"`
	Editors            []EditorSpec    `json:"editors"`
}

// InstanceId is the vault-allocated identifier of an instance: the smallest
// free positive uint32, rendered on the wire as 8 lowercase hex digits.
type InstanceId uint32

// String renders the ID as the canonical zero-padded lowercase hex form.
func (id InstanceId) String() string {
	return fmt.Sprintf("%08x", uint32(id))
}

// MarshalJSON implements json.Marshaler so persisted records use the same
// 8-digit hex form as the wire representation.
func (id InstanceId) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler, accepting only the canonical
// 8-digit lowercase hex form.
func (id *InstanceId) UnmarshalJSON(data []byte) error {
	if len(data) != 10 || data[0] != '"' || data[9] != '"' {
		return fmt.Errorf("invalid instance id %q: expected 8 hex digits", data)
	}
	for _, c := range data[1:9] {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return fmt.Errorf("invalid instance id %q: expected 8 lowercase hex digits", data)
		}
	}
	var v uint32
	if _, err := fmt.Sscanf(string(data[1:9]), "%08x", &v); err != nil {
		return fmt.Errorf("invalid instance id %q: %w", data, err)
	}
	*id = InstanceId(v)
	return nil
}

// InstanceStatus is an observed fact about an instance's runtime state.
type InstanceStatus string

const (
	InstanceNotCreated    InstanceStatus = "not-created"
	InstanceRequested     InstanceStatus = "requested"
	InstanceResourcesReady InstanceStatus = "resources-ready"
	InstanceCreated       InstanceStatus = "created"
	InstanceStopped       InstanceStatus = "stopped"
	InstanceRunning       InstanceStatus = "running"
	InstanceOrphaned      InstanceStatus = "orphaned"
	InstanceUnknown       InstanceStatus = "unknown"
)

// Label is a simple ordered name/value pair.
type Label struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// EnvironmentVariable is an ordered (name, optional value) pair. Names must
// be unique within an InstanceConfig's EnvironmentVariables list.
type EnvironmentVariable struct {
	Name  string  `json:"name"`
	Value *string `json:"value,omitempty"`
}

// UsbBinding describes how a host USB device is passed through to an
// instance. HostPort is the UsbPort string this binding is keyed by.
type UsbBinding struct {
	HostPort string `json:"host_port"`
	VendorID string `json:"vendor_id,omitempty"`
	ProductID string `json:"product_id,omitempty"`
}

// NetworkAdapterConfig is a network adapter attached to an instance.
type NetworkAdapterConfig struct {
	Name      string `json:"name"`
	Mode      string `json:"mode"` // "bridge" or "macvlan"
	IPAddress string `json:"ip_address,omitempty"`
}

// InstanceConfig is the full mutable configuration of an instance.
type InstanceConfig struct {
	PortMapping         PortMappingSet         `json:"port_mapping"`
	EnvironmentVariables []EnvironmentVariable `json:"environment_variables"`
	UsbDevices          map[string]UsbBinding  `json:"usb_devices"`
	NetworkAdapters     []NetworkAdapterConfig `json:"network_adapters"`
	Labels              []Label                `json:"labels"`
}

// NewInstanceConfig returns an empty, well-formed InstanceConfig.
func NewInstanceConfig() InstanceConfig {
	return InstanceConfig{
		UsbDevices: make(map[string]UsbBinding),
	}
}

// Instance is a runtime copy of an app with its own configuration and state.
type Instance struct {
	ID        InstanceId     `json:"id"`
	Name      string         `json:"name"`
	AppKey    AppKey         `json:"app_key"`
	Status    InstanceStatus `json:"status"`
	Desired   InstanceStatus `json:"desired"`
	Config    InstanceConfig `json:"config"`
	Hostname  string         `json:"hostname"`
	IPAddress string         `json:"ip_address,omitempty"`
	Editors   []EditorSpec   `json:"editors"`
	// ContainerRef is the deployment driver's opaque handle for this
	// instance's container, empty until create_container succeeds.
	ContainerRef string    `json:"container_ref,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
