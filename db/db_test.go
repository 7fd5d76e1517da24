package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sechat/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := New(filepath.Join(t.TempDir(), "snapshot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestSnapshotRoundTrip(t *testing.T) {
	database := newTestDB(t)

	saved := models.Snapshot{
		PublicKeys: map[string]string{
			"XYZ999": "pk-xyz",
			"QWE456": "pk-qwe",
		},
		Friends: map[string][]string{
			"XYZ999": {"QWE456"},
			"QWE456": {"XYZ999"},
		},
	}
	require.NoError(t, database.SaveSnapshot(saved))

	loaded, err := database.LoadSnapshot()
	require.NoError(t, err)
	assert.Equal(t, saved.PublicKeys, loaded.PublicKeys)
	assert.Equal(t, saved.Friends, loaded.Friends)
}

func TestSaveOverwritesPrevious(t *testing.T) {
	database := newTestDB(t)

	require.NoError(t, database.SaveSnapshot(models.Snapshot{
		PublicKeys: map[string]string{"AAAAAA": "pk-old"},
		Friends:    map[string][]string{"AAAAAA": {"BBBBBB"}, "BBBBBB": {"AAAAAA"}},
	}))
	require.NoError(t, database.SaveSnapshot(models.Snapshot{
		PublicKeys: map[string]string{"CCCCCC": "pk-new"},
		Friends:    map[string][]string{},
	}))

	loaded, err := database.LoadSnapshot()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"CCCCCC": "pk-new"}, loaded.PublicKeys)
	assert.Empty(t, loaded.Friends)
}

func TestLoadEmptyDatabase(t *testing.T) {
	database := newTestDB(t)

	loaded, err := database.LoadSnapshot()
	require.NoError(t, err)
	assert.NotNil(t, loaded.PublicKeys)
	assert.NotNil(t, loaded.Friends)
	assert.Empty(t, loaded.PublicKeys)
	assert.Empty(t, loaded.Friends)
}

func TestSaveSkipsEmptyKeys(t *testing.T) {
	database := newTestDB(t)

	require.NoError(t, database.SaveSnapshot(models.Snapshot{
		PublicKeys: map[string]string{
			"AAAAAA": "pk-a",
			"BBBBBB": "",
		},
		Friends: map[string][]string{},
	}))

	loaded, err := database.LoadSnapshot()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"AAAAAA": "pk-a"}, loaded.PublicKeys)
}

func TestSaveDeduplicatesFriendRows(t *testing.T) {
	database := newTestDB(t)

	require.NoError(t, database.SaveSnapshot(models.Snapshot{
		PublicKeys: map[string]string{},
		Friends:    map[string][]string{"AAAAAA": {"BBBBBB", "BBBBBB"}},
	}))

	loaded, err := database.LoadSnapshot()
	require.NoError(t, err)
	assert.Equal(t, []string{"BBBBBB"}, loaded.Friends["AAAAAA"])
}
