package db

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/hackgpt/internal/chat"
	"github.com/suPer8Hu/hackgpt/internal/models"
)

func TestMigrateSchema(t *testing.T) {
	gdb, err := Open("sqlite", "file:schema_test?mode=memory&cache=shared")
	require.NoError(t, err)

	require.NoError(t, Migrate(gdb, Schema()...))
	// migrating twice is a no-op
	require.NoError(t, Migrate(gdb, Schema()...))

	m := gdb.Migrator()
	require.True(t, m.HasTable(&models.User{}))
	require.True(t, m.HasTable(&chat.Session{}))
	require.True(t, m.HasTable(&chat.Message{}))
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("postgres", "x")
	require.Error(t, err)
}
