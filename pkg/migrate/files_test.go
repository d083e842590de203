package migrate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMigration(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestCreateAtStampsUTCVersion(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 2, 10, 4, 5, 0, time.UTC)

	path, err := createAt(dir, "  Member Level Rates ", now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20260302100405_member_level_rates.sql"), path)

	_, err = createAt(dir, "member level rates", now)
	assert.Error(t, err, "second create with same stamp must not overwrite")

	_, err = createAt(dir, "!!!", now)
	assert.Error(t, err)
}

func TestListOrdersByVersion(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "20260301090100_b.sql", "-- +goose Up\n-- +goose Down\n")
	writeMigration(t, dir, "20260301090000_a.sql", "-- +goose Up\n-- +goose Down\n")
	writeMigration(t, dir, "README.md", "ignored")

	files, err := List(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, int64(20260301090000), files[0].Version)
	assert.Equal(t, "a", files[0].Name)
	assert.Equal(t, "b", files[1].Name)

	ok, err := HasVersion(dir, 20260301090100)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = HasVersion(dir, 20260301099999)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidateDirRejectsBadFiles(t *testing.T) {
	cases := map[string]struct {
		name string
		body string
	}{
		"bad name":         {name: "001_init.sql", body: "-- +goose Up\n-- +goose Down\n"},
		"missing down":     {name: "20260301090000_a.sql", body: "-- +goose Up\nSELECT 1;\n"},
		"down before up":   {name: "20260301090000_a.sql", body: "-- +goose Down\n-- +goose Up\n"},
		"unterminated":     {name: "20260301090000_a.sql", body: "-- +goose Up\n-- +goose StatementBegin\n-- +goose Down\n"},
		"end without open": {name: "20260301090000_a.sql", body: "-- +goose Up\n-- +goose StatementEnd\n-- +goose Down\n"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeMigration(t, dir, tc.name, tc.body)
			assert.Error(t, ValidateDir(dir))
		})
	}
}

func TestValidateDirRejectsDuplicateVersions(t *testing.T) {
	dir := t.TempDir()
	body := "-- +goose Up\n-- +goose Down\n"
	writeMigration(t, dir, "20260301090000_a.sql", body)
	writeMigration(t, dir, "20260301090000_b.sql", body)

	err := ValidateDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate migration version")
}
