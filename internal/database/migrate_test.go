package database

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("up")
	require.NoError(t, err)
	require.Equal(t, Up, d)

	d, err = ParseDirection("down")
	require.NoError(t, err)
	require.Equal(t, Down, d)

	_, err = ParseDirection("sideways")
	require.Error(t, err)
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationFS.ReadDir("migrations")
	require.NoError(t, err)

	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name()] = true
	}
	require.True(t, names["0001_init.up.sql"])
	require.True(t, names["0001_init.down.sql"])

	up, err := migrationFS.ReadFile("migrations/0001_init.up.sql")
	require.NoError(t, err)
	require.Contains(t, string(up), "applications_user_campaign_key UNIQUE (user_id, campaign_id)")
}
