// Package manifest parses an application's declarative YAML manifest
// into types.Manifest. Grounded on gopkg.in/yaml.v3, the teacher's
// dependency for this concern (see go.mod), with the struct tags living
// on types.Manifest itself.
package manifest

import (
	"fmt"

	"github.com/flecs-technologies/flecs-core/pkg/types"
	"gopkg.in/yaml.v3"
)

// Parse decodes a manifest document for the given app key. The key is
// not present in the YAML body (it comes from the install request/path),
// so it is attached after decoding.
func Parse(key types.AppKey, data []byte) (types.Manifest, error) {
	var m types.Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return types.Manifest{}, fmt.Errorf("parse manifest for %s: %w", key, err)
	}
	m.Key = key
	if m.Image == "" {
		return types.Manifest{}, fmt.Errorf("manifest for %s has no image", key)
	}
	return m, nil
}

// Marshal encodes a manifest back to YAML, e.g. for sideloading tools.
func Marshal(m types.Manifest) ([]byte, error) {
	return yaml.Marshal(m)
}
