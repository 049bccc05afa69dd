package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dennisukpong/transport-booking/internal/config"
)

func TestBackupService(t *testing.T) {
	db := setupSeededDB(t)
	dir := filepath.Join(t.TempDir(), "backups")
	logger := zerolog.Nop()

	svc := NewBackupService(db, config.BackupConfig{
		Enabled:       true,
		StoragePath:   dir,
		RetentionDays: 7,
	}, time.Hour, &logger)

	path, err := svc.PerformBackup(context.Background())
	require.NoError(t, err)

	snapshot, err := NewDB(path, &logger)
	require.NoError(t, err)
	defer snapshot.Close()
	origins, err := snapshot.DistinctOrigins(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"UYO"}, origins)

	old := filepath.Join(dir, "backup_old.db")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	stale := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(old, stale, stale))

	svc.CleanupOldBackups()

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path)
	assert.NoError(t, err)
}
