package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/courierhq/courier/internal/provider"
)

// ProviderSet is an ordered provider list: a primary followed by zero or
// more backups. The order is fixed configuration; nothing reorders it at
// runtime. A set may be written in YAML either as a full block
//
//	primary: {name: twilio, kind: webhook, ...}
//	backups:
//	  - {name: nexmo, kind: webhook, ...}
//
// or, when there is no backup, as a bare provider block.
type ProviderSet struct {
	Primary *provider.Settings  `yaml:"primary"`
	Backups []provider.Settings `yaml:"backups"`
}

func (s *ProviderSet) UnmarshalYAML(value *yaml.Node) error {
	type plain ProviderSet
	var multi plain
	if err := value.Decode(&multi); err == nil && multi.Primary != nil {
		*s = ProviderSet(multi)
		return nil
	}

	var single provider.Settings
	if err := value.Decode(&single); err != nil {
		return err
	}
	if single.Name == "" {
		return fmt.Errorf("provider set needs a primary or a provider name")
	}

	*s = ProviderSet{Primary: &single}
	return nil
}

// Ordered returns the providers in failover order, primary first.
func (s *ProviderSet) Ordered() []provider.Settings {
	if s == nil || s.Primary == nil {
		return nil
	}
	ordered := make([]provider.Settings, 0, 1+len(s.Backups))
	ordered = append(ordered, *s.Primary)
	ordered = append(ordered, s.Backups...)
	return ordered
}

// Topology is the provider wiring for every delivery domain, keyed for
// messaging by channel name (sms, email, push, whatsapp).
type Topology struct {
	Messaging map[string]ProviderSet `yaml:"messaging"`
	Queue     *ProviderSet           `yaml:"queue"`
	Storage   *ProviderSet           `yaml:"storage"`
}

func LoadTopology(path string) (*Topology, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology file: %w", err)
	}

	var topology Topology
	if err := yaml.Unmarshal(raw, &topology); err != nil {
		return nil, fmt.Errorf("failed to parse topology file: %w", err)
	}

	if len(topology.Messaging) == 0 {
		return nil, fmt.Errorf("topology defines no messaging providers")
	}
	for channel, set := range topology.Messaging {
		if set.Primary == nil {
			return nil, fmt.Errorf("messaging channel %q has no primary provider", channel)
		}
	}

	return &topology, nil
}
