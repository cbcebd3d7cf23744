package vault

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/flecs-technologies/flecs-core/pkg/log"
	"github.com/flecs-technologies/flecs-core/pkg/types"
)

// brokenSuffix is appended to a record file that failed to parse at load
// time, so startup can continue instead of failing closed.
const brokenSuffix = ".broken"

// AppPouch is the apps gems collection: a directory of one JSON file per
// App, keyed by AppKey. It is only ever touched through a Guard that
// declared it, per spec §4.1.
type AppPouch struct {
	mu   sync.RWMutex
	dir  string
	gems map[types.AppKey]types.App
}

func appFileName(key types.AppKey) string {
	return fmt.Sprintf("%s@%s.json", key.Name, key.Version)
}

func loadAppPouch(dir string) (*AppPouch, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	gems := make(map[types.AppKey]types.App)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Logger.Warn().Err(err).Str("path", path).Msg("could not read app record, skipping")
			continue
		}
		var app types.App
		if err := json.Unmarshal(data, &app); err != nil {
			markBroken(path)
			log.Logger.Warn().Err(err).Str("path", path).Msg("corrupt app record moved aside")
			continue
		}
		gems[app.Key] = app
	}
	return &AppPouch{dir: dir, gems: gems}, nil
}

func markBroken(path string) {
	if err := os.Rename(path, path+brokenSuffix); err != nil {
		log.Logger.Warn().Err(err).Str("path", path).Msg("could not move aside corrupt record")
	}
}

// Gems returns the live app map. Callers that only declared a shared
// (non-mutable) reservation must not write through it; Go cannot enforce
// that at compile time, so this is a discipline the sorcerer follows, the
// same way the teacher's storage layer trusts callers to use CreateX vs
// GetX appropriately.
func (p *AppPouch) Gems() map[types.AppKey]types.App {
	return p.gems
}

// GemsMut returns the live, writable app map.
func (p *AppPouch) GemsMut() map[types.AppKey]types.App {
	return p.gems
}

func (p *AppPouch) flush() error {
	expected := make(map[string]struct{}, len(p.gems))
	for key, app := range p.gems {
		name := appFileName(key)
		expected[name] = struct{}{}
		data, err := json.MarshalIndent(app, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal app %s: %w", key, err)
		}
		if err := os.WriteFile(filepath.Join(p.dir, name), data, 0o644); err != nil {
			return fmt.Errorf("write app %s: %w", key, err)
		}
	}
	return removeStale(p.dir, expected)
}

// InstancePouch is the instances gems collection: a directory of one
// JSON file per Instance, keyed by InstanceId.
type InstancePouch struct {
	mu   sync.RWMutex
	dir  string
	gems map[types.InstanceId]types.Instance
}

func instanceFileName(id types.InstanceId) string {
	return id.String() + ".json"
}

func loadInstancePouch(dir string) (*InstancePouch, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	gems := make(map[types.InstanceId]types.Instance)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Logger.Warn().Err(err).Str("path", path).Msg("could not read instance record, skipping")
			continue
		}
		var instance types.Instance
		if err := json.Unmarshal(data, &instance); err != nil {
			markBroken(path)
			log.Logger.Warn().Err(err).Str("path", path).Msg("corrupt instance record moved aside")
			continue
		}
		gems[instance.ID] = instance
	}
	return &InstancePouch{dir: dir, gems: gems}, nil
}

// Gems returns the live instance map.
func (p *InstancePouch) Gems() map[types.InstanceId]types.Instance {
	return p.gems
}

// GemsMut returns the live, writable instance map.
func (p *InstancePouch) GemsMut() map[types.InstanceId]types.Instance {
	return p.gems
}

// NextFreeID returns the smallest free positive InstanceId, per spec
// §3's allocation rule.
func (p *InstancePouch) NextFreeID() types.InstanceId {
	for id := types.InstanceId(1); ; id++ {
		if _, ok := p.gems[id]; !ok {
			return id
		}
	}
}

func (p *InstancePouch) flush() error {
	expected := make(map[string]struct{}, len(p.gems))
	for id, instance := range p.gems {
		name := instanceFileName(id)
		expected[name] = struct{}{}
		data, err := json.MarshalIndent(instance, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal instance %s: %w", id, err)
		}
		if err := os.WriteFile(filepath.Join(p.dir, name), data, 0o644); err != nil {
			return fmt.Errorf("write instance %s: %w", id, err)
		}
	}
	return removeStale(p.dir, expected)
}

// removeStale deletes every *.json entry in dir whose name is not in
// expected, so a deleted gem's file disappears on the next flush.
func removeStale(dir string, expected map[string]struct{}) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		if _, ok := expected[entry.Name()]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("remove stale record %s: %w", entry.Name(), err)
		}
	}
	return nil
}
