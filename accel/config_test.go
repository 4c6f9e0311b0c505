package accel_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/rtas/accel"
	"github.com/vkngwrapper/rtas/memutils/metadata"
)

func TestParseByteSize(t *testing.T) {
	valid := map[string]accel.ByteSize{
		"64":      64,
		"1KiB":    1024,
		"16 MiB":  16 << 20,
		"2GiB":    2 << 30,
		"1.5KB":   1500,
		"32MB":    32_000_000,
		"512B":    512,
		" 8 KiB ": 8192,
	}

	for str, expected := range valid {
		t.Run(str, func(t *testing.T) {
			size, err := accel.ParseByteSize(str)
			require.NoError(t, err)
			require.Equal(t, expected, size)
		})
	}

	for _, str := range []string{"", "-1", "1.5B", "lots", "MiB"} {
		_, err := accel.ParseByteSize(str)
		require.Error(t, err, str)
	}
}

func TestLoadConfig(t *testing.T) {
	config, err := accel.LoadConfig(strings.NewReader(`
latency: 2
block_size: 16MiB
size_query_block_size: 4096
max_block_count: 8
compaction_budget: 1.5MB
compaction_strategy: min_time
strict_compaction_budget: true
`))
	require.NoError(t, err)

	options, err := config.CreateOptions()
	require.NoError(t, err)
	require.Equal(t, accel.CreateOptions{
		Flags:              accel.CreateStrictCompactionBudget,
		Latency:            2,
		BlockSize:          16 << 20,
		SizeQueryBlockSize: 4096,
		MaxBlockCount:      8,
		CompactionBudget:   1_500_000,
		CompactionStrategy: metadata.AllocationStrategyMinTime,
	}, options)
}

func TestLoadConfigEmpty(t *testing.T) {
	config, err := accel.LoadConfig(strings.NewReader(""))
	require.NoError(t, err)

	options, err := config.CreateOptions()
	require.NoError(t, err)
	require.Equal(t, accel.CreateOptions{}, options)
}

func TestLoadConfigRejects(t *testing.T) {
	_, err := accel.LoadConfig(strings.NewReader("latncy: 2\n"))
	require.Error(t, err)

	_, err = accel.LoadConfig(strings.NewReader("block_size: [1, 2]\n"))
	require.Error(t, err)

	config, err := accel.LoadConfig(strings.NewReader("compaction_strategy: fastest\n"))
	require.NoError(t, err)
	_, err = config.CreateOptions()
	require.Error(t, err)
}
