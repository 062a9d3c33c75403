package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrate_RejectsUnknownDirection(t *testing.T) {
	_, err := run(t, "--store", "memory", "migrate", "sideways")
	require.Error(t, err)
}

func TestMigrate_RequiresPostgres(t *testing.T) {
	_, err := run(t, "--store", "memory", "migrate", "up")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires the postgres store")
}

func TestRoot_RejectsUnknownStore(t *testing.T) {
	_, err := run(t, "--store", "sqlite", "drain", "--queue", "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store must be postgres or memory")
}

func TestDrain_RequiresQueue(t *testing.T) {
	_, err := run(t, "--store", "memory", "drain")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--queue is required")
}

func TestDrain_EmptyMemoryQueueFinishes(t *testing.T) {
	out, err := run(t, "--store", "memory", "--log-level", "info", "drain", "--queue", "emails")
	require.NoError(t, err)
	assert.Contains(t, out, "drain finished")
	assert.Contains(t, out, "completed=0")
}
