package accel

import (
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/rtas/memutils/metadata"
	"gopkg.in/yaml.v3"
)

// ByteSize is a size in bytes that can be written in yaml either as a plain integer or as a
// number with a unit suffix, such as 64MiB or 1.5GB
type ByteSize int

var byteSizeUnits = []struct {
	suffix     string
	multiplier float64
}{
	{"KiB", 1 << 10},
	{"MiB", 1 << 20},
	{"GiB", 1 << 30},
	{"KB", 1e3},
	{"MB", 1e6},
	{"GB", 1e9},
	{"B", 1},
}

// ParseByteSize parses a plain integer or a number followed by one of B, KB, MB, GB, KiB, MiB
// or GiB
func ParseByteSize(str string) (ByteSize, error) {
	trimmed := strings.TrimSpace(str)
	if trimmed == "" {
		return 0, errors.New("empty byte size")
	}

	multiplier := 1.0
	for _, unit := range byteSizeUnits {
		if strings.HasSuffix(trimmed, unit.suffix) {
			trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, unit.suffix))
			multiplier = unit.multiplier
			break
		}
	}

	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid byte size %q", str)
	}
	if value < 0 {
		return 0, errors.Newf("byte size %q is negative", str)
	}

	bytes := value * multiplier
	if bytes != float64(int(bytes)) {
		return 0, errors.Newf("byte size %q is not a whole number of bytes", str)
	}

	return ByteSize(bytes), nil
}

func (s *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errors.Newf("line %d: byte size must be a scalar", value.Line)
	}

	parsed, err := ParseByteSize(value.Value)
	if err != nil {
		return errors.Wrapf(err, "line %d", value.Line)
	}

	*s = parsed
	return nil
}

func (s ByteSize) MarshalYAML() (any, error) {
	return int(s), nil
}

var compactionStrategies = map[string]metadata.AllocationStrategy{
	"":           0,
	"balanced":   0,
	"min_memory": metadata.AllocationStrategyMinMemory,
	"min_time":   metadata.AllocationStrategyMinTime,
}

// Config is the yaml form of CreateOptions
type Config struct {
	Latency            int      `yaml:"latency"`
	BlockSize          ByteSize `yaml:"block_size"`
	SizeQueryBlockSize ByteSize `yaml:"size_query_block_size"`
	MaxBlockCount      int      `yaml:"max_block_count"`
	CompactionBudget   ByteSize `yaml:"compaction_budget"`
	// CompactionStrategy is one of balanced, min_memory or min_time
	CompactionStrategy string `yaml:"compaction_strategy"`

	StrictCompactionBudget bool `yaml:"strict_compaction_budget"`
	ExternallySynchronized bool `yaml:"externally_synchronized"`
}

// LoadConfig decodes a Config from yaml. Unknown fields are rejected.
func LoadConfig(r io.Reader) (Config, error) {
	var config Config

	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	err := decoder.Decode(&config)
	if err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, "failed to decode manager config")
	}

	return config, nil
}

// CreateOptions converts the config into CreateOptions for New
func (c Config) CreateOptions() (CreateOptions, error) {
	strategy, ok := compactionStrategies[c.CompactionStrategy]
	if !ok {
		return CreateOptions{}, errors.Newf("unknown compaction strategy %q", c.CompactionStrategy)
	}

	options := CreateOptions{
		Latency:            c.Latency,
		BlockSize:          int(c.BlockSize),
		SizeQueryBlockSize: int(c.SizeQueryBlockSize),
		MaxBlockCount:      c.MaxBlockCount,
		CompactionBudget:   int(c.CompactionBudget),
		CompactionStrategy: strategy,
	}

	if c.StrictCompactionBudget {
		options.Flags |= CreateStrictCompactionBudget
	}
	if c.ExternallySynchronized {
		options.Flags |= CreateExternallySynchronized
	}

	return options, nil
}
