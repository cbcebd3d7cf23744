// Package sorcerer implements the Instance Sorcerer of spec §4.3: the
// operations that mutate Instance state by composing a Vault reservation,
// the deployment driver, and floxy. Grounded on the teacher's
// pkg/manager.Manager (CRUD methods composing a store and a scheduler)
// and pkg/deploy.Deployer (the "read state under lock, mutate, drive
// convergence" shape of rollingUpdate), generalized from services/tasks
// to apps/instances and from a Raft-backed store to the Vault.
package sorcerer

import (
	"context"
	"fmt"
	"time"

	"github.com/flecs-technologies/flecs-core/pkg/apierr"
	"github.com/flecs-technologies/flecs-core/pkg/driver"
	"github.com/flecs-technologies/flecs-core/pkg/floxy"
	"github.com/flecs-technologies/flecs-core/pkg/instanceconfig"
	"github.com/flecs-technologies/flecs-core/pkg/log"
	"github.com/flecs-technologies/flecs-core/pkg/quest"
	"github.com/flecs-technologies/flecs-core/pkg/types"
	"github.com/flecs-technologies/flecs-core/pkg/vault"
)

// Sorcerer composes the Vault, a deployment Driver, and floxy to implement
// every instance operation spec §4.3 names.
type Sorcerer struct {
	vlt    *vault.Vault
	driver driver.Driver
	floxy  *floxy.Floxy
	quests *quest.Registry
}

// New builds a Sorcerer over the given collaborators. quests may be nil,
// in which case quest.Default() is used.
func New(v *vault.Vault, d driver.Driver, fx *floxy.Floxy, q *quest.Registry) *Sorcerer {
	if q == nil {
		q = quest.Default()
	}
	return &Sorcerer{vlt: v, driver: d, floxy: fx, quests: q}
}

func instanceNotFound(id types.InstanceId) error {
	return apierr.Newf(apierr.KindNotFound, "instance %s not found", id)
}

func appNotFound(key types.AppKey) error {
	return apierr.Newf(apierr.KindValidation, "app %s does not exist", key)
}

// readInstance returns a snapshot of an instance under a shared reservation.
func (s *Sorcerer) readInstance(id types.InstanceId) (types.Instance, error) {
	guard := s.vlt.Reservation().ReserveInstances(false).Grab()
	defer guard.Release()

	inst, ok := guard.InstancePouch().Gems()[id]
	if !ok {
		return types.Instance{}, instanceNotFound(id)
	}
	return inst, nil
}

// mutateInstance loads the instance under a mutable reservation, runs fn
// against a copy, and writes it back unless fn errors. UpdatedAt is
// refreshed on success.
func (s *Sorcerer) mutateInstance(id types.InstanceId, fn func(*types.Instance) error) error {
	guard := s.vlt.Reservation().ReserveInstances(true).Grab()
	defer guard.Release()

	gems := guard.InstancePouchMut().GemsMut()
	inst, ok := gems[id]
	if !ok {
		return instanceNotFound(id)
	}
	if err := fn(&inst); err != nil {
		return err
	}
	inst.UpdatedAt = time.Now()
	gems[id] = inst
	return nil
}

func (s *Sorcerer) readApp(key types.AppKey) (types.App, error) {
	guard := s.vlt.Reservation().ReserveApps(false).Grab()
	defer guard.Release()

	app, ok := guard.AppPouch().Gems()[key]
	if !ok {
		return types.App{}, appNotFound(key)
	}
	return app, nil
}

// CreateInstance allocates the smallest free InstanceId, persists a new
// Instance with desired=Stopped/status=Requested, and schedules a quest
// that pulls the image and creates the container. It returns the new
// instance id and the quest id immediately, per spec §9's resolved Open
// Question: creation does not block on the asynchronous work.
func (s *Sorcerer) CreateInstance(ctx context.Context, appKey types.AppKey, name string) (types.InstanceId, uint64, error) {
	app, err := s.readApp(appKey)
	if err != nil {
		return 0, 0, err
	}

	guard := s.vlt.Reservation().ReserveInstances(true).Grab()
	id := guard.InstancePouchMut().NextFreeID()
	now := time.Now()
	instance := types.Instance{
		ID:        id,
		Name:      name,
		AppKey:    appKey,
		Status:    types.InstanceRequested,
		Desired:   types.InstanceStopped,
		Config:    seedInstanceConfig(app.Manifest),
		Editors:   app.Manifest.Editors,
		CreatedAt: now,
		UpdatedAt: now,
	}
	guard.InstancePouchMut().GemsMut()[id] = instance
	if err := guard.Release(); err != nil {
		return 0, 0, apierr.Wrap(apierr.KindTransientIO, "persist new instance", err)
	}

	questID := s.quests.ScheduleQuest(ctx, fmt.Sprintf("create instance %s for %s", id, appKey), func(h *quest.Handle) error {
		return s.createContainer(h, id, app.Manifest)
	})
	return id, questID, nil
}

func seedInstanceConfig(m types.Manifest) types.InstanceConfig {
	cfg := types.NewInstanceConfig()
	cfg.EnvironmentVariables = append([]types.EnvironmentVariable{}, m.DefaultEnv...)
	cfg.PortMapping = m.DefaultPorts
	cfg.Labels = append([]types.Label{}, m.DefaultLabels...)
	return cfg
}

func (s *Sorcerer) createContainer(h *quest.Handle, id types.InstanceId, manifest types.Manifest) error {
	ctx := context.Background()
	if err := h.SubQuest(fmt.Sprintf("pull image %s", manifest.Image), func(*quest.Handle) error {
		return s.driver.EnsureImage(ctx, manifest)
	}); err != nil {
		s.markUnknown(id)
		return fmt.Errorf("ensure image %s: %w", manifest.Image, err)
	}
	h.ProgressSet(1, 2)

	instance, err := s.readInstance(id)
	if err != nil {
		return err
	}

	var ref driver.ContainerRef
	if err := h.SubQuest("create container", func(*quest.Handle) error {
		created, err := s.driver.CreateContainer(ctx, instance, manifest)
		if err != nil {
			return err
		}
		ref = created
		return nil
	}); err != nil {
		s.markUnknown(id)
		return fmt.Errorf("create container: %w", err)
	}
	h.ProgressSet(2, 2)

	if err := s.mutateInstance(id, func(inst *types.Instance) error {
		inst.ContainerRef = string(ref)
		inst.Status = types.InstanceCreated
		return nil
	}); err != nil {
		return err
	}
	return s.convergeFloxy(id)
}

// convergeFloxy reconciles an instance's reverse-proxy configuration with
// its current editors and container address, the same work the original
// performs inside start_instance. Editors that support the shared reverse
// proxy get a location block each in the instance's config file; editors
// that don't get their own dedicated redirect port instead, with an
// additional-locations redirect pointing their API path at it. A no-op
// if floxy isn't configured or the container isn't actually running yet.
func (s *Sorcerer) convergeFloxy(id types.InstanceId) error {
	if s.floxy == nil {
		return nil
	}
	instance, err := s.readInstance(id)
	if err != nil {
		return err
	}
	if instance.ContainerRef == "" {
		return nil
	}

	inspection, err := s.driver.Inspect(context.Background(), driver.ContainerRef(instance.ContainerRef))
	if err != nil {
		return fmt.Errorf("inspect container: %w", err)
	}
	if !inspection.Running || inspection.IPAddress == "" {
		return nil
	}

	var proxiedPorts []uint16
	var additional []floxy.AdditionalLocation
	for _, ed := range instance.Editors {
		if ed.SupportsReverseProxy {
			proxiedPorts = append(proxiedPorts, ed.Port)
			continue
		}
		freePort, err := s.floxy.AddInstanceEditorRedirectToFreePort(instance.AppKey.Name, id, inspection.IPAddress, ed.Port)
		if err != nil {
			return fmt.Errorf("redirect editor %s to a free port: %w", ed.Name, err)
		}
		additional = append(additional, floxy.AdditionalLocation{
			Port:     ed.Port,
			Location: fmt.Sprintf("http://%s:%d", inspection.IPAddress, freePort),
		})
	}

	if len(proxiedPorts) > 0 {
		if err := s.floxy.AddInstanceReverseProxyConfig(instance.AppKey.Name, id, inspection.IPAddress, proxiedPorts, nil); err != nil {
			return fmt.Errorf("add instance reverse proxy config: %w", err)
		}
	}
	if len(additional) > 0 {
		if err := s.floxy.AddAdditionalLocationsProxyConfig(instance.AppKey.Name, id, additional); err != nil {
			return fmt.Errorf("add additional locations config: %w", err)
		}
	}
	return nil
}

// markUnknown sets an instance's observed status to Unknown after a driver
// failure, per spec §7 kind 4: reconciliation is left to later operations.
func (s *Sorcerer) markUnknown(id types.InstanceId) {
	if err := s.mutateInstance(id, func(inst *types.Instance) error {
		inst.Status = types.InstanceUnknown
		return nil
	}); err != nil {
		log.WithInstanceID(id.String()).Warn().Err(err).Msg("failed to mark instance status unknown")
	}
}

// DeleteInstance sets desired=NotCreated, stops and removes the
// container if any, removes the instance's reverse-proxy configs, and
// removes the persisted record. Runs inside a quest since it may call the
// driver.
func (s *Sorcerer) DeleteInstance(ctx context.Context, id types.InstanceId) (uint64, error) {
	instance, err := s.readInstance(id)
	if err != nil {
		return 0, err
	}
	if err := s.mutateInstance(id, func(inst *types.Instance) error {
		inst.Desired = types.InstanceNotCreated
		return nil
	}); err != nil {
		return 0, err
	}

	questID := s.quests.ScheduleQuest(ctx, fmt.Sprintf("delete instance %s", id), func(h *quest.Handle) error {
		return s.deleteInstance(h, instance)
	})
	return questID, nil
}

func (s *Sorcerer) deleteInstance(h *quest.Handle, instance types.Instance) error {
	ctx := context.Background()
	if instance.ContainerRef != "" {
		if err := s.driver.RemoveContainer(ctx, driver.ContainerRef(instance.ContainerRef)); err != nil {
			s.markUnknown(instance.ID)
			return fmt.Errorf("remove container: %w", err)
		}
	}
	h.ProgressSet(1, 3)

	if s.floxy != nil {
		if err := s.floxy.DeleteReverseProxyConfig(instance.AppKey.Name, instance.ID); err != nil {
			return fmt.Errorf("delete reverse proxy config: %w", err)
		}
		if err := s.floxy.DeleteAdditionalLocationsProxyConfig(instance.AppKey.Name, instance.ID); err != nil {
			return fmt.Errorf("delete additional locations config: %w", err)
		}
		hostPorts := allHostPorts(instance.Config.PortMapping)
		if len(hostPorts) > 0 {
			if err := s.floxy.DeleteServerProxyConfigs(instance.AppKey.Name, instance.ID, hostPorts); err != nil {
				return fmt.Errorf("delete server proxy configs: %w", err)
			}
		}
	}
	h.ProgressSet(2, 3)

	guard := s.vlt.Reservation().ReserveInstances(true).Grab()
	delete(guard.InstancePouchMut().GemsMut(), instance.ID)
	if err := guard.Release(); err != nil {
		return apierr.Wrap(apierr.KindTransientIO, "persist instance deletion", err)
	}
	h.ProgressSet(3, 3)
	return nil
}

func allHostPorts(set types.PortMappingSet) []uint16 {
	var ports []uint16
	for _, proto := range []types.TransportProtocol{types.ProtocolTCP, types.ProtocolUDP, types.ProtocolSCTP} {
		for _, m := range set.List(proto) {
			r := m.HostRange()
			for p := r.Start(); ; p++ {
				ports = append(ports, p)
				if p == r.End() {
					break
				}
			}
		}
	}
	return ports
}

// StartInstance sets desired=Running and starts the container.
func (s *Sorcerer) StartInstance(ctx context.Context, id types.InstanceId) (uint64, error) {
	instance, err := s.readInstance(id)
	if err != nil {
		return 0, err
	}
	if err := s.mutateInstance(id, func(inst *types.Instance) error {
		inst.Desired = types.InstanceRunning
		return nil
	}); err != nil {
		return 0, err
	}

	questID := s.quests.ScheduleQuest(ctx, fmt.Sprintf("start instance %s", id), func(h *quest.Handle) error {
		if instance.ContainerRef == "" {
			return fmt.Errorf("instance %s has no container", id)
		}
		if err := h.SubQuest("start container", func(*quest.Handle) error {
			return s.driver.StartContainer(context.Background(), driver.ContainerRef(instance.ContainerRef))
		}); err != nil {
			s.markUnknown(id)
			return fmt.Errorf("start container: %w", err)
		}
		if err := s.mutateInstance(id, func(inst *types.Instance) error {
			inst.Status = types.InstanceRunning
			return nil
		}); err != nil {
			return err
		}
		return s.convergeFloxy(id)
	})
	return questID, nil
}

// StopInstance sets desired=Stopped and stops the container.
func (s *Sorcerer) StopInstance(ctx context.Context, id types.InstanceId) (uint64, error) {
	instance, err := s.readInstance(id)
	if err != nil {
		return 0, err
	}
	if err := s.mutateInstance(id, func(inst *types.Instance) error {
		inst.Desired = types.InstanceStopped
		return nil
	}); err != nil {
		return 0, err
	}

	questID := s.quests.ScheduleQuest(ctx, fmt.Sprintf("stop instance %s", id), func(h *quest.Handle) error {
		if instance.ContainerRef == "" {
			return nil
		}
		if err := s.driver.StopContainer(context.Background(), driver.ContainerRef(instance.ContainerRef)); err != nil {
			s.markUnknown(id)
			return fmt.Errorf("stop container: %w", err)
		}
		return s.mutateInstance(id, func(inst *types.Instance) error {
			inst.Status = types.InstanceStopped
			return nil
		})
	})
	return questID, nil
}

// GetInstanceDetailed returns the full persisted record for an instance.
func (s *Sorcerer) GetInstanceDetailed(id types.InstanceId) (types.Instance, error) {
	return s.readInstance(id)
}

// ListInstances returns every instance, optionally filtered by app key.
// A nil filter (or a filter with an empty Name) returns every instance.
func (s *Sorcerer) ListInstances(filter *types.AppKey) ([]types.Instance, error) {
	guard := s.vlt.Reservation().ReserveInstances(false).Grab()
	defer guard.Release()

	var instances []types.Instance
	for _, inst := range guard.InstancePouch().Gems() {
		if filter != nil && filter.Name != "" {
			if inst.AppKey.Name != filter.Name {
				continue
			}
			if filter.Version != "" && inst.AppKey.Version != filter.Version {
				continue
			}
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// InstanceLogs fetches stdout/stderr from the instance's container.
func (s *Sorcerer) InstanceLogs(ctx context.Context, id types.InstanceId) (driver.Logs, error) {
	instance, err := s.readInstance(id)
	if err != nil {
		return driver.Logs{}, err
	}
	if instance.ContainerRef == "" {
		return driver.Logs{}, apierr.Newf(apierr.KindNotFound, "instance %s has no container", id)
	}
	logs, err := s.driver.ContainerLogs(ctx, driver.ContainerRef(instance.ContainerRef))
	if err != nil {
		return driver.Logs{}, apierr.Wrap(apierr.KindDriverFailure, "fetch container logs", err)
	}
	return logs, nil
}

// PutEnvironment replaces an instance's whole environment variable list.
func (s *Sorcerer) PutEnvironment(id types.InstanceId, vars []types.EnvironmentVariable) error {
	return s.mutateInstance(id, func(inst *types.Instance) error {
		_, err := instanceconfig.PutEnvironment(&inst.Config, vars)
		return err
	})
}

// PutEnvironmentVariable sets a single environment variable.
func (s *Sorcerer) PutEnvironmentVariable(id types.InstanceId, v types.EnvironmentVariable) (instanceconfig.CRUDResult, error) {
	var result instanceconfig.CRUDResult
	err := s.mutateInstance(id, func(inst *types.Instance) error {
		result = instanceconfig.PutEnvironmentVariable(&inst.Config, v)
		return nil
	})
	return result, err
}

// GetEnvironment returns an instance's full environment variable list.
func (s *Sorcerer) GetEnvironment(id types.InstanceId) ([]types.EnvironmentVariable, error) {
	instance, err := s.readInstance(id)
	if err != nil {
		return nil, err
	}
	return instance.Config.EnvironmentVariables, nil
}

// GetEnvironmentVariable returns a single variable, reporting whether it
// was set.
func (s *Sorcerer) GetEnvironmentVariable(id types.InstanceId, name string) (types.EnvironmentVariable, bool, error) {
	instance, err := s.readInstance(id)
	if err != nil {
		return types.EnvironmentVariable{}, false, err
	}
	v, ok := instanceconfig.GetEnvironmentVariable(&instance.Config, name)
	return v, ok, nil
}

// DeleteEnvironmentVariable removes a variable, reporting whether it was
// present. Per spec, absence of the variable is a 404 distinct from the
// instance itself being missing, which is reported as an error.
func (s *Sorcerer) DeleteEnvironmentVariable(id types.InstanceId, name string) (bool, error) {
	var deleted bool
	err := s.mutateInstance(id, func(inst *types.Instance) error {
		deleted = instanceconfig.DeleteEnvironmentVariable(&inst.Config, name)
		return nil
	})
	return deleted, err
}

// PutUsbDevice binds a host USB port to the instance.
func (s *Sorcerer) PutUsbDevice(id types.InstanceId, binding types.UsbBinding) (instanceconfig.CRUDResult, error) {
	var result instanceconfig.CRUDResult
	err := s.mutateInstance(id, func(inst *types.Instance) error {
		result = instanceconfig.PutUsbDevice(&inst.Config, binding)
		return nil
	})
	return result, err
}

// GetUsbDevices returns all USB bindings for the instance.
func (s *Sorcerer) GetUsbDevices(id types.InstanceId) (map[string]types.UsbBinding, error) {
	instance, err := s.readInstance(id)
	if err != nil {
		return nil, err
	}
	return instance.Config.UsbDevices, nil
}

// DeleteUsbDevice unbinds a host USB port, reporting whether it was bound.
func (s *Sorcerer) DeleteUsbDevice(id types.InstanceId, port string) (bool, error) {
	var deleted bool
	err := s.mutateInstance(id, func(inst *types.Instance) error {
		deleted = instanceconfig.DeleteUsbDevice(&inst.Config, port)
		return nil
	})
	return deleted, err
}

// GetPortMappings returns an instance's mapping list for one protocol.
func (s *Sorcerer) GetPortMappings(id types.InstanceId, proto types.TransportProtocol) ([]types.PortMapping, error) {
	instance, err := s.readInstance(id)
	if err != nil {
		return nil, err
	}
	return instance.Config.PortMapping.List(proto), nil
}

// PutPortMappingRange implements the PUT <host_range> tie-break rules of
// spec §4.3.
func (s *Sorcerer) PutPortMappingRange(id types.InstanceId, proto types.TransportProtocol, host, container types.PortRange) (instanceconfig.CRUDResult, error) {
	var result instanceconfig.CRUDResult
	err := s.mutateInstance(id, func(inst *types.Instance) error {
		set, r, err := instanceconfig.PutPortMappingRange(inst.Config.PortMapping, proto, host, container)
		if err != nil {
			return err
		}
		inst.Config.PortMapping = set
		result = r
		return nil
	})
	return result, err
}

// DeletePortMappingRange removes the mapping whose host range exactly
// matches rng, reporting whether one was found.
func (s *Sorcerer) DeletePortMappingRange(id types.InstanceId, proto types.TransportProtocol, rng types.PortRange) (bool, error) {
	var found bool
	err := s.mutateInstance(id, func(inst *types.Instance) error {
		set, ok := instanceconfig.DeletePortMappingRange(inst.Config.PortMapping, proto, rng)
		inst.Config.PortMapping = set
		found = ok
		return nil
	})
	return found, err
}

// PutPortMappingList replaces an entire protocol's mapping list.
func (s *Sorcerer) PutPortMappingList(id types.InstanceId, proto types.TransportProtocol, list []types.PortMapping) error {
	return s.mutateInstance(id, func(inst *types.Instance) error {
		set, err := instanceconfig.PutPortMappingList(inst.Config.PortMapping, proto, list)
		if err != nil {
			return err
		}
		inst.Config.PortMapping = set
		return nil
	})
}
