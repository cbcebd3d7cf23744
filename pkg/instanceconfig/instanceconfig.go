// Package instanceconfig implements the set semantics of an instance's
// environment variables, USB passthrough bindings, and port mappings:
// the pure validation and CRUD-result logic spec §4.3 describes,
// independent of the vault reservation that calls it. Grounded on
// original_source/flecs-core/src/fsm/server_impl/instances.rs's
// validate_environment_variables and the
// put_instance_config_environment_variable_value family of sorcerer
// functions, whose None/Some(None)/Some(Some) result shape is what
// CRUDResult below encodes as a named Go type instead of nested options.
package instanceconfig

import (
	"fmt"

	"github.com/flecs-technologies/flecs-core/pkg/apierr"
	"github.com/flecs-technologies/flecs-core/pkg/portmap"
	"github.com/flecs-technologies/flecs-core/pkg/types"
	"github.com/flecs-technologies/flecs-core/pkg/usb"
)

// CRUDResult is the outcome of a single-item config mutation: whether the
// parent instance existed, and if so whether the item was freshly created
// or merely updated. It mirrors the None / Some(None) / Some(Some) chain
// the original sorcerer returns, flattened into one value.
type CRUDResult int

const (
	// InstanceMissing means the instance itself does not exist (404).
	InstanceMissing CRUDResult = iota
	// ItemMissing means the instance exists but the named sub-resource
	// does not (404), relevant only to GET/DELETE.
	ItemMissing
	// Created means the item did not exist and was added (201).
	Created
	// Updated means the item existed and was replaced (200).
	Updated
)

// ValidateEnvironment returns a non-nil error iff two environment
// variables share a name. Errors are joined with newlines, matching the
// wire format of additional_info.
func ValidateEnvironment(vars []types.EnvironmentVariable) error {
	seen := make(map[string]struct{}, len(vars))
	var msg string
	for _, v := range vars {
		if _, dup := seen[v.Name]; dup {
			if msg != "" {
				msg += "\n"
			}
			msg += fmt.Sprintf("Duplicate environment variable name: %s", v.Name)
			continue
		}
		seen[v.Name] = struct{}{}
	}
	if msg == "" {
		return nil
	}
	return apierr.New(apierr.KindValidation, msg)
}

// PutEnvironment replaces the whole environment variable list after
// validating it. Returns the previous list so the caller can derive
// Created (previous list was empty) vs Updated.
func PutEnvironment(cfg *types.InstanceConfig, vars []types.EnvironmentVariable) ([]types.EnvironmentVariable, error) {
	if err := ValidateEnvironment(vars); err != nil {
		return nil, err
	}
	previous := cfg.EnvironmentVariables
	cfg.EnvironmentVariables = vars
	return previous, nil
}

// PutEnvironmentVariable sets a single variable by name, returning
// Created if the name was absent and Updated otherwise.
func PutEnvironmentVariable(cfg *types.InstanceConfig, v types.EnvironmentVariable) CRUDResult {
	for i, existing := range cfg.EnvironmentVariables {
		if existing.Name == v.Name {
			cfg.EnvironmentVariables[i] = v
			return Updated
		}
	}
	cfg.EnvironmentVariables = append(cfg.EnvironmentVariables, v)
	return Created
}

// GetEnvironmentVariable looks up a variable by name.
func GetEnvironmentVariable(cfg *types.InstanceConfig, name string) (types.EnvironmentVariable, bool) {
	for _, v := range cfg.EnvironmentVariables {
		if v.Name == name {
			return v, true
		}
	}
	return types.EnvironmentVariable{}, false
}

// DeleteEnvironmentVariable removes a variable by name, reporting whether
// it was present.
func DeleteEnvironmentVariable(cfg *types.InstanceConfig, name string) bool {
	for i, v := range cfg.EnvironmentVariables {
		if v.Name == name {
			cfg.EnvironmentVariables = append(cfg.EnvironmentVariables[:i], cfg.EnvironmentVariables[i+1:]...)
			return true
		}
	}
	return false
}

// PutUsbDevice binds a host USB port to an instance, returning Created if
// the port was unbound and Updated otherwise. The port string must
// already be validated by usb.ValidatePort at the API edge.
func PutUsbDevice(cfg *types.InstanceConfig, binding types.UsbBinding) CRUDResult {
	if cfg.UsbDevices == nil {
		cfg.UsbDevices = make(map[string]types.UsbBinding)
	}
	_, existed := cfg.UsbDevices[binding.HostPort]
	cfg.UsbDevices[binding.HostPort] = binding
	if existed {
		return Updated
	}
	return Created
}

// DeleteUsbDevice unbinds a host USB port, reporting whether it was bound.
func DeleteUsbDevice(cfg *types.InstanceConfig, port string) bool {
	if cfg.UsbDevices == nil {
		return false
	}
	if _, ok := cfg.UsbDevices[port]; !ok {
		return false
	}
	delete(cfg.UsbDevices, port)
	return true
}

// PutPortMappingRange implements the PUT <host_range> tie-break rules of
// spec §4.3: validate cardinality, reject overlap with any other mapping
// of the same protocol, then replace-in-place on an exact host range
// match or append. Returns Created/Updated, or an apierr.KindValidation
// error.
func PutPortMappingRange(set types.PortMappingSet, proto types.TransportProtocol, host, container types.PortRange) (types.PortMappingSet, CRUDResult, error) {
	if host.Len() != container.Len() {
		return set, 0, apierr.Newf(apierr.KindValidation,
			"the size of the container port range (%s) and host port range (%s) has to be equal", container, host)
	}
	candidate, err := types.NewRangePortMapping(host, container)
	if err != nil {
		return set, 0, apierr.Wrap(apierr.KindValidation, "invalid port mapping", err)
	}

	list := set.List(proto)
	existingIdx := portmap.FindExactHostRange(list, host)
	if portmap.OverlapsAnyExcept(list, candidate, existingIdx) {
		return set, 0, apierr.Newf(apierr.KindValidation,
			"host ports of mapping %s overlap an existing mapping", candidate)
	}

	result := Created
	if existingIdx >= 0 {
		list[existingIdx] = candidate
		result = Updated
	} else {
		list = append(list, candidate)
	}
	return set.WithList(proto, list), result, nil
}

// DeletePortMappingRange removes the mapping whose host range exactly
// matches rng for the given protocol, reporting whether one was found.
func DeletePortMappingRange(set types.PortMappingSet, proto types.TransportProtocol, rng types.PortRange) (types.PortMappingSet, bool) {
	list := set.List(proto)
	idx := portmap.FindExactHostRange(list, rng)
	if idx < 0 {
		return set, false
	}
	list = append(append([]types.PortMapping{}, list[:idx]...), list[idx+1:]...)
	return set.WithList(proto, list), true
}

// PutPortMappingList replaces an entire protocol's mapping list after
// validating it as a whole.
func PutPortMappingList(set types.PortMappingSet, proto types.TransportProtocol, list []types.PortMapping) (types.PortMappingSet, error) {
	if errs := portmap.Validate(list); len(errs) > 0 {
		msg := ""
		for i, e := range errs {
			if i > 0 {
				msg += "\n"
			}
			msg += e
		}
		return set, apierr.New(apierr.KindValidation, msg)
	}
	return set.WithList(proto, list), nil
}

// ValidateUsbPort re-exports usb.ValidatePort for callers that only
// import this package.
func ValidateUsbPort(port string) error {
	return usb.ValidatePort(port)
}
