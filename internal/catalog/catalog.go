// Package catalog holds the static per-machine-type sensor definitions.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"telemetry-service/internal/models"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// ConfigError reports an invalid sensor definition. The whole machine type
// it belongs to is rejected.
type ConfigError struct {
	MachineType string
	Sensor      string
	Reason      string
}

func (e *ConfigError) Error() string {
	if e.Sensor == "" {
		return fmt.Sprintf("machine type %q: %s", e.MachineType, e.Reason)
	}
	return fmt.Sprintf("machine type %q sensor %q: %s", e.MachineType, e.Sensor, e.Reason)
}

type fileFormat struct {
	MachineTypes []struct {
		Name    string                    `yaml:"name"`
		Sensors []models.SensorDefinition `yaml:"sensors"`
	} `yaml:"machine_types"`
}

// Catalog is immutable after construction and safe for concurrent reads.
type Catalog struct {
	order    []string
	sensors  map[string][]models.SensorDefinition
	rejected []*ConfigError
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a YAML catalog from path, or the embedded one when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes a YAML catalog. Malformed YAML is an error; machine types
// with invalid definitions are dropped and reported via Rejected.
func Parse(raw []byte) (*Catalog, error) {
	var f fileFormat
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(f.MachineTypes) == 0 {
		return nil, errors.New("catalog defines no machine types")
	}

	c := &Catalog{sensors: make(map[string][]models.SensorDefinition)}
	for _, mt := range f.MachineTypes {
		if mt.Name == "" {
			c.rejected = append(c.rejected, &ConfigError{Reason: "missing machine type name"})
			continue
		}
		if _, dup := c.sensors[mt.Name]; dup {
			c.rejected = append(c.rejected, &ConfigError{MachineType: mt.Name, Reason: "duplicate machine type"})
			continue
		}
		if cerr := validateType(mt.Name, mt.Sensors); cerr != nil {
			c.rejected = append(c.rejected, cerr)
			continue
		}
		defs := make([]models.SensorDefinition, len(mt.Sensors))
		copy(defs, mt.Sensors)
		c.sensors[mt.Name] = defs
		c.order = append(c.order, mt.Name)
	}
	if len(c.order) == 0 {
		return nil, fmt.Errorf("catalog has no valid machine types: %w", c.Strict())
	}
	return c, nil
}

func validateType(name string, defs []models.SensorDefinition) *ConfigError {
	if len(defs) == 0 {
		return &ConfigError{MachineType: name, Reason: "no sensors defined"}
	}
	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		if d.SensorType == "" {
			return &ConfigError{MachineType: name, Reason: "sensor with empty sensor_type"}
		}
		if seen[d.SensorType] {
			return &ConfigError{MachineType: name, Sensor: d.SensorType, Reason: "duplicate sensor"}
		}
		seen[d.SensorType] = true
		if err := Validate(d); err != "" {
			return &ConfigError{MachineType: name, Sensor: d.SensorType, Reason: err}
		}
	}
	return nil
}

// Validate checks min < normal_low < normal_high < max and returns a
// reason string, empty when the definition is valid.
func Validate(d models.SensorDefinition) string {
	switch {
	case !(d.Min < d.NormalLow):
		return fmt.Sprintf("min %.3f must be below normal_low %.3f", d.Min, d.NormalLow)
	case !(d.NormalLow < d.NormalHigh):
		return fmt.Sprintf("normal range [%.3f, %.3f] must have positive width", d.NormalLow, d.NormalHigh)
	case !(d.NormalHigh < d.Max):
		return fmt.Sprintf("normal_high %.3f must be below max %.3f", d.NormalHigh, d.Max)
	}
	return ""
}

// Sensors returns the definitions for a machine type in catalog order.
func (c *Catalog) Sensors(machineType string) ([]models.SensorDefinition, bool) {
	defs, ok := c.sensors[machineType]
	return defs, ok
}

// SensorTypes returns just the sensor names for a machine type.
func (c *Catalog) SensorTypes(machineType string) []string {
	defs := c.sensors[machineType]
	out := make([]string, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.SensorType)
	}
	return out
}

// Types lists the accepted machine types in file order.
func (c *Catalog) Types() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Rejected lists the machine types dropped at load time.
func (c *Catalog) Rejected() []*ConfigError {
	return c.rejected
}

// Strict joins every rejection into one error, nil if none.
func (c *Catalog) Strict() error {
	errs := make([]error, 0, len(c.rejected))
	for _, r := range c.rejected {
		errs = append(errs, r)
	}
	return errors.Join(errs...)
}
