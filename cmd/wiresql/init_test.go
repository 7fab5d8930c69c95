package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParserFor(t *testing.T) {
	for _, path := range []string{"a.yaml", "dir/a.yml", "a.json"} {
		p, err := parserFor(path)
		require.NoError(t, err, path)
		assert.NotNil(t, p)
	}
	_, err := parserFor("a.toml")
	assert.Error(t, err)
}

func TestInitConfig(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	require.NoError(t, os.WriteFile(base, []byte("port: \"9000\"\npartitions: 4\nkafka:\n  bootstrap_servers: [\"localhost:9092\"]\n"), 0o644))
	override := filepath.Join(dir, "override.json")
	require.NoError(t, os.WriteFile(override, []byte(`{"partitions": 2}`), 0o644))

	ko := koanf.New(".")
	require.NoError(t, initConfig(ko, []string{"--config", base, "--config", override, "--buffer", "7"}))

	assert.Equal(t, "9000", ko.String("port"))
	assert.Equal(t, 2, ko.Int("partitions"))
	assert.Equal(t, 7, ko.Int("buffer"))
	assert.Equal(t, "info", ko.String("log-level"))
	assert.Equal(t, []string{"localhost:9092"}, ko.Strings("kafka.bootstrap_servers"))
}

func TestInitConfig_MissingFile(t *testing.T) {
	ko := koanf.New(".")
	err := initConfig(ko, []string{"--config", filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, err)
}
