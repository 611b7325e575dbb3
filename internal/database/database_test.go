package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexra46515/apex-app-shield-sub000/internal/models"
)

func TestOpenAndMigrate(t *testing.T) {
	db, err := Open("file:dbtest?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	assert.True(t, db.Migrator().HasTable(&models.SecurityEvent{}))
	assert.True(t, db.Migrator().HasTable(&models.AdaptiveRule{}))

	path := filepath.Join(t.TempDir(), "shield.db")
	db, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	var mode string
	require.NoError(t, db.Raw("PRAGMA journal_mode").Scan(&mode).Error)
	assert.Equal(t, "wal", mode)
	assert.FileExists(t, path)
}

func TestIsMemory(t *testing.T) {
	assert.True(t, isMemory(":memory:"))
	assert.True(t, isMemory("file::memory:?cache=shared"))
	assert.True(t, isMemory("file:x?mode=memory&cache=shared"))
	assert.False(t, isMemory("/var/lib/shield/shield.db"))
}
