package db

import (
	"testing"

	"github.com/caesium-cloud/fanout/internal/models"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLiteAndMigrate(t *testing.T) {
	gdb, err := Open("SQLite", "file:db_test?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	require.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)

	require.NoError(t, MigrateDB(gdb))
	for _, m := range models.All {
		require.True(t, gdb.Migrator().HasTable(m))
	}
}

func TestOpenRejectsUnknownType(t *testing.T) {
	_, err := Open("mysql", "whatever")
	require.ErrorContains(t, err, "unsupported database type")
}
