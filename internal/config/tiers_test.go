package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadTierSeedsTOML(t *testing.T) {
	path := writeFile(t, "tiers.toml", `
[[tiers]]
name = "Bronze"
threshold = 0
points_rate = 5

[[tiers]]
name = "Silver"
threshold = 1000
points_rate = 7.5
sort_order = 1
`)

	tiers, err := LoadTierSeeds(path)
	require.NoError(t, err)
	require.Len(t, tiers, 2)
	assert.Equal(t, "Bronze", tiers[0].Name)
	assert.Equal(t, 1000.0, tiers[1].Threshold)
	assert.Equal(t, 7.5, tiers[1].PointsRate)
	assert.Equal(t, 1, tiers[1].SortOrder)
}

func TestLoadTierSeedsYAML(t *testing.T) {
	path := writeFile(t, "tiers.yaml", `
tiers:
  - name: Gold
    threshold: 5000
    points_rate: 10
`)

	tiers, err := LoadTierSeeds(path)
	require.NoError(t, err)
	require.Len(t, tiers, 1)
	assert.Equal(t, "Gold", tiers[0].Name)
	assert.Equal(t, 5000.0, tiers[0].Threshold)
}

func TestLoadTierSeedsRejectsBadInput(t *testing.T) {
	_, err := LoadTierSeeds(writeFile(t, "tiers.json", `{}`))
	assert.Error(t, err)

	_, err = LoadTierSeeds(writeFile(t, "tiers.yml", "tiers:\n  - name: Bad\n    points_rate: -1\n"))
	assert.Error(t, err)

	_, err = LoadTierSeeds(writeFile(t, "tiers.toml", "[[tiers]]\nthreshold = 10\n"))
	assert.Error(t, err)

	_, err = LoadTierSeeds(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
