package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a host file. Defaults are applied; validation is not.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read host file: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.FilePath = path
	return m, nil
}

// Parse decodes hosts.yml content in either the list or the mapping form.
func Parse(data []byte) (*Manifest, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse host file: %w", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, fmt.Errorf("parse host file: empty document")
	}

	var m Manifest
	doc := root.Content[0]
	switch doc.Kind {
	case yaml.SequenceNode:
		if err := doc.Decode(&m.Hosts); err != nil {
			return nil, fmt.Errorf("parse host list: %w", err)
		}
	case yaml.MappingNode:
		if err := doc.Decode(&m); err != nil {
			return nil, fmt.Errorf("parse host file: %w", err)
		}
	default:
		return nil, fmt.Errorf("parse host file: expected a list of hosts or a mapping, line %d", doc.Line)
	}

	for i, h := range m.Hosts {
		m.Hosts[i] = h.withDefaults(m.Defaults)
	}
	return &m, nil
}

// Save writes the manifest in the mapping form.
func Save(m *Manifest, path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode host file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write host file: %w", err)
	}
	return nil
}

// Example returns a starter manifest for `a12rta init`.
func Example() *Manifest {
	return &Manifest{
		Defaults: Host{
			User:         "deploy",
			KeyFilename:  "~/.ssh/id_ed25519",
			Delay:        ptr(DefaultDelay),
			BufferLines:  ptr(DefaultBufferLines),
			LoginTimeout: ptr(DefaultLoginTimeout),
		},
		Hosts: []Host{
			{
				Host:    "web1.example.com",
				LogFile: "/var/log/nginx/error.log",
			},
			{
				Name:           "db",
				Host:           "10.0.0.12",
				LogFile:        "/var/log/postgresql/postgresql.log",
				RootAccessType: ptr("sudo"),
				Mode:           "stream",
			},
		},
	}
}
