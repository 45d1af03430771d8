// Package registry loads the static device catalogue (devices.json) and
// makes it available by ID. Device definitions are validated against a
// JSON Schema before being accepted, mirroring the config loader's
// validation step in the original Python implementation.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Device describes one controllable or observable entity in the house.
type Device struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Room       string `json:"room"`
	SetTopic   string `json:"set_topic,omitempty"`
	StateTopic string `json:"state_topic"`
}

// Registry holds the loaded device catalogue, keyed by device ID.
type Registry struct {
	devices map[string]Device
}

// DeviceSchema is the JSON Schema new device catalogues are validated
// against before being loaded.
const DeviceSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "array",
	"items": {
		"type": "object",
		"required": ["id", "type", "room", "state_topic"],
		"properties": {
			"id": {"type": "string", "minLength": 1},
			"type": {"type": "string", "enum": ["light", "lock", "cover", "switch", "thermostat", "siren", "security", "sensor", "camera"]},
			"room": {"type": "string", "minLength": 1},
			"set_topic": {"type": "string"},
			"state_topic": {"type": "string", "minLength": 1}
		}
	}
}`

// Load reads and validates a devices.json file at path, returning a
// Registry indexed by device ID.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}
	return LoadBytes(raw)
}

// LoadBytes validates and parses raw device catalogue JSON.
func LoadBytes(raw []byte) (*Registry, error) {
	schema, err := jsonschema.UnmarshalJSON(strings.NewReader(DeviceSchema))
	if err != nil {
		return nil, fmt.Errorf("registry: compile schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("device-schema.json", schema); err != nil {
		return nil, fmt.Errorf("registry: add schema resource: %w", err)
	}
	sch, err := compiler.Compile("device-schema.json")
	if err != nil {
		return nil, fmt.Errorf("registry: compile schema: %w", err)
	}

	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, fmt.Errorf("registry: parse devices: %w", err)
	}
	if err := sch.Validate(instance); err != nil {
		return nil, fmt.Errorf("registry: devices failed schema validation: %w", err)
	}

	var devices []Device
	if err := json.Unmarshal(raw, &devices); err != nil {
		return nil, fmt.Errorf("registry: decode devices: %w", err)
	}

	r := &Registry{devices: make(map[string]Device, len(devices))}
	for _, d := range devices {
		r.devices[d.ID] = d
	}
	return r, nil
}

// Get returns the device with the given ID, and whether it was found.
func (r *Registry) Get(id string) (Device, bool) {
	d, ok := r.devices[id]
	return d, ok
}

// All returns every registered device.
func (r *Registry) All() []Device {
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out
}
