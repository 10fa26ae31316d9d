package notify

import (
	"os"

	"gopkg.in/yaml.v3"
)

type ChannelConfig struct {
	Subject string `yaml:"subject"`
}

type Config struct {
	Channels map[string]ChannelConfig `yaml:"channels"`
}

// LoadRoutes reads the channel-to-subject routing file. A missing path means
// no overrides; every channel then uses the default subject scheme.
func LoadRoutes(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	routes := make(map[string]string, len(cfg.Channels))
	for channel, c := range cfg.Channels {
		if c.Subject != "" {
			routes[channel] = c.Subject
		}
	}
	return routes, nil
}
