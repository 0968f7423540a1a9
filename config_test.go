package caterva

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const configExample = `
compression:
  codec: zstd
  level: 3
  typesize: 4
  threads: 4
  blocksize: 65536
  filters:
    - name: truncprec
      meta: 10
    - name: delta
    - name: shuffle
decompression:
  threads: 2
logging:
  level: debug
  json: true
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(configExample))
	require.NoError(t, err)

	cp, dp, err := cfg.Params()
	require.NoError(t, err)
	require.Equal(t, CompressionParams{
		Codec:     CodecZstd,
		Level:     3,
		TypeSize:  4,
		NThreads:  4,
		BlockSize: 65536,
		Filters: []Filter{
			{ID: FilterTruncPrec, Meta: 10},
			{ID: FilterDelta},
			{ID: FilterShuffle},
		},
	}, cp)
	require.Equal(t, DecompressionParams{NThreads: 2}, dp)
	require.Equal(t, slog.LevelDebug, cfg.Logging.SlogLevel())
	require.True(t, cfg.Logging.JSON)
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("logging:\n  level: warn\n"))
	require.NoError(t, err)
	require.Equal(t, slog.LevelWarn, cfg.Logging.SlogLevel())

	cp, dp, err := cfg.Params()
	require.NoError(t, err)
	require.Equal(t, DefaultCompressionParams(), cp)
	require.Equal(t, DefaultDecompressionParams(), dp)
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"codec", "compression: {codec: brotli}", "brotli"},
		{"filter", "compression: {filters: [{name: fancy}]}", "fancy"},
		{"level", "compression: {level: 12}", "level"},
		{"typesize", "compression: {typesize: 0}", "typesize"},
		{"threads", "decompression: {threads: -1}", "threads"},
		{"logging", "logging: {level: loud}", "loud"},
		{"syntax", "compression: [", "parse config"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(c.yaml))
			require.ErrorContains(t, err, c.want)
		})
	}

	cfg := DefaultConfig()
	cfg.Compression.Codec = "nope"
	cfg.Logging.Level = "loud"
	err := cfg.Validate()
	require.ErrorContains(t, err, "nope")
	require.ErrorContains(t, err, "loud")
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "caterva.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configExample), 0o644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "zstd", cfg.Compression.Codec)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
