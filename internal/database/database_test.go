package database

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tankclash/matchcore/internal/model"
)

func TestOpenSQLiteFileAndSetup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scores.db")
	db, err := OpenSQLite(path, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, Setup(db, zerolog.Nop()))
	assert.True(t, db.Migrator().HasTable(&model.Match{}))
	assert.True(t, db.Migrator().HasTable(&model.FinalScore{}))
	assert.True(t, db.Migrator().HasTable(&model.KillRecord{}))
}

func TestDumpMemoryDBToDisk(t *testing.T) {
	src, err := OpenSQLite(filepath.Join(t.TempDir(), "src.db"), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, Setup(src, zerolog.Nop()))
	require.NoError(t, src.Create(&model.Match{MatchID: "m-1"}).Error)

	out := filepath.Join(t.TempDir(), "dump.db")
	_, err = DumpMemoryDBToDisk(src, out)
	require.NoError(t, err)

	// dumping twice replaces the previous file
	_, err = DumpMemoryDBToDisk(src, out)
	require.NoError(t, err)

	dumped, err := OpenSQLite(out, zerolog.Nop())
	require.NoError(t, err)
	var count int64
	require.NoError(t, dumped.Model(&model.Match{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDumpMemoryDBToDiskNoPath(t *testing.T) {
	_, err := DumpMemoryDBToDisk(nil, "")
	assert.Error(t, err)
}
