package backup_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-docker-py/dockergen/backup"
)

var fixedTime = time.Date(2026, time.October, 17, 13, 4, 5, 0, time.Local)

func fixedClock() time.Time {
	return fixedTime
}

func writeFile(t *testing.T, fs backup.FS, name, content string) {
	t.Helper()
	f, err := fs.Create(name)
	require.NoError(t, err)
	_, err = f.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func readFile(t *testing.T, fs backup.FS, name string) string {
	t.Helper()
	f, err := fs.Open(name)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return string(data)
}

func TestName(t *testing.T) {
	assert.Equal(t, "docker-compose.yml.backup_20261017_130405", backup.Name("docker-compose.yml", fixedTime))
	assert.Equal(t, "out.yml.backup_20261017_130405", backup.Name("some/dir/out.yml", fixedTime))
}

func TestBackupExistingFile(t *testing.T) {
	t.Run("missing file is not backed up", func(t *testing.T) {
		fs := memfs.New()
		b := backup.NewBackuper(fs, backup.WithClock(fixedClock))

		got, err := b.BackupExistingFile("docker-compose.yml", "backups")
		require.NoError(t, err)
		assert.Empty(t, got)

		_, err = fs.Stat("backups")
		assert.True(t, os.IsNotExist(err), "backup directory should not be created")
	})

	t.Run("existing file is copied byte for byte", func(t *testing.T) {
		fs := memfs.New()
		const content = "services:\n  agent:\n    tty: true\n"
		writeFile(t, fs, "docker-compose.yml", content)
		b := backup.NewBackuper(fs, backup.WithClock(fixedClock))

		got, err := b.BackupExistingFile("docker-compose.yml", "backups")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join("backups", "docker-compose.yml.backup_20261017_130405"), got)
		assert.Equal(t, content, readFile(t, fs, got))
		assert.Equal(t, content, readFile(t, fs, "docker-compose.yml"))
	})

	t.Run("nested backup directory is created", func(t *testing.T) {
		fs := memfs.New()
		writeFile(t, fs, "out.yml", "x")
		b := backup.NewBackuper(fs, backup.WithClock(fixedClock))

		got, err := b.BackupExistingFile("out.yml", filepath.Join("a", "b", "c"))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join("a", "b", "c", "out.yml.backup_20261017_130405"), got)

		info, err := fs.Stat(filepath.Join("a", "b", "c"))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("existing backup directory is reused", func(t *testing.T) {
		fs := memfs.New()
		require.NoError(t, fs.MkdirAll("backups", 0755))
		writeFile(t, fs, "out.yml", "x")
		b := backup.NewBackuper(fs, backup.WithClock(fixedClock))

		_, err := b.BackupExistingFile("out.yml", "backups")
		require.NoError(t, err)
	})

	t.Run("backups within the same second collide", func(t *testing.T) {
		fs := memfs.New()
		b := backup.NewBackuper(fs, backup.WithClock(fixedClock))

		writeFile(t, fs, "out.yml", "first")
		first, err := b.BackupExistingFile("out.yml", "backups")
		require.NoError(t, err)

		writeFile(t, fs, "out.yml", "second")
		second, err := b.BackupExistingFile("out.yml", "backups")
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, "second", readFile(t, fs, second))
	})

	t.Run("directory source is an error", func(t *testing.T) {
		fs := memfs.New()
		require.NoError(t, fs.MkdirAll("out.yml", 0755))
		b := backup.NewBackuper(fs, backup.WithClock(fixedClock))

		_, err := b.BackupExistingFile("out.yml", "backups")
		assert.Error(t, err)
	})
}

func TestBackupExistingFileOnHost(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "docker-compose.yml")
	require.NoError(t, os.WriteFile(src, []byte("volumes:\n"), 0600))
	mtime := time.Date(2024, time.January, 2, 3, 4, 5, 0, time.Local)
	require.NoError(t, os.Chtimes(src, mtime, mtime))

	b := backup.NewBackuper(backup.Host(), backup.WithClock(fixedClock))
	got, err := b.BackupExistingFile(src, filepath.Join(dir, "backups"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "backups", "docker-compose.yml.backup_20261017_130405"), got)

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "volumes:\n", string(data))

	info, err := os.Stat(got)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(mtime), "modification time should be preserved")
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestHostOpenFileKeepsMissingParent(t *testing.T) {
	dir := t.TempDir()
	fs := backup.Host()

	_, err := fs.OpenFile(filepath.Join(dir, "missing", "out.yml"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(filepath.Join(dir, "missing"))
	assert.True(t, os.IsNotExist(err))

	f, err := fs.OpenFile(filepath.Join(dir, "out.yml"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}
