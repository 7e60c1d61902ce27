package main

import (
	"fmt"
	"os"
	"time"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"udprelay/domain"
)

type Config struct {
	Host               string        `env:"HOST,default=0.0.0.0"`
	Port               int           `env:"PORT,default=5000" validate:"gte=1,lte=65535"`
	MaxPayload         int           `env:"MAX_PAYLOAD,default=4096" validate:"gt=0"`
	EmptyGroupTTL      time.Duration `env:"EMPTY_GROUP_TTL,default=5m" validate:"gt=0"`
	SweepInterval      time.Duration `env:"SWEEP_INTERVAL,default=30s" validate:"gt=0"`
	SuggestedHeartbeat time.Duration `env:"SUGGESTED_HEARTBEAT,default=1m" validate:"gt=0"`
	MaxGroupSize       *int          `env:"MAX_GROUP_SIZE"`
	GroupCapsFile      string        `env:"GROUP_CAPS_FILE"`
	MaxGroupsPerClient int           `env:"MAX_GROUPS_PER_CLIENT,default=3" validate:"gt=0"`
	RestartInterval    time.Duration `env:"RESTART_INTERVAL,default=200ms" validate:"gt=0"`
	TelemetryInterval  time.Duration `env:"TELEMETRY_INTERVAL,default=30s" validate:"gt=0"`
	MetricsPort        int           `env:"METRICS_PORT,default=0" validate:"gte=0,lte=65535"`
	LogLevel           string        `env:"LOG_LEVEL,default=INFO"`
}

// groupCapsFile is the on-disk shape of the optional per-group capacity
// override file.
type groupCapsFile struct {
	Groups map[string]int `yaml:"groups"`
}

// loadGroupCaps reads per-group capacity overrides from a YAML file and
// normalizes the identifiers the same way the wire does.
func loadGroupCaps(path string) (map[domain.GroupID]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading group caps file %s: %w", path, err)
	}

	var file groupCapsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing group caps file %s: %w", path, err)
	}

	for id, limit := range file.Groups {
		if limit <= 0 {
			return nil, fmt.Errorf("group caps file %s: cap for %q must be positive, got %d", path, id, limit)
		}
	}

	return lo.MapEntries(file.Groups, func(id string, limit int) (domain.GroupID, int) {
		return domain.NormalizeGroupID(id), limit
	}), nil
}
