package backup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dataDir := t.TempDir()
	backupDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "data.pages"), []byte("page-bytes"), 0o600))

	mgr, err := NewManager(dataDir, backupDir)
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return mgr, dataDir
}

func TestManager_Full_WritesMetadataAndIsListed(t *testing.T) {
	mgr, _ := newTestManager(t)

	meta, err := mgr.Full("backup-1", 1000)
	require.NoError(t, err)
	assert.Equal(t, Full, meta.Kind)
	assert.Contains(t, meta.Files, "data.pages")
	assert.NotEmpty(t, meta.Checksum)

	list, err := mgr.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "backup-1", list[0].ID)
}

func TestManager_List_OrdersMostRecentFirst(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, err := mgr.Full("oldest", 100)
	require.NoError(t, err)
	_, err = mgr.Full("newest", 300)
	require.NoError(t, err)
	_, err = mgr.Full("middle", 200)
	require.NoError(t, err)

	list, err := mgr.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"newest", "middle", "oldest"}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestManager_Verify_DetectsTamperedBackup(t *testing.T) {
	mgr, _ := newTestManager(t)

	meta, err := mgr.Full("backup-1", 1000)
	require.NoError(t, err)
	require.NoError(t, mgr.Verify(meta.ID))

	tamperedFile := filepath.Join(mgr.backupDir, meta.ID, "data.pages")
	require.NoError(t, os.WriteFile(tamperedFile, []byte("tampered"), 0o600))

	err = mgr.Verify(meta.ID)
	assert.Error(t, err)
}

func TestManager_Restore_CopiesFilesFromChain(t *testing.T) {
	mgr, dataDir := newTestManager(t)

	_, err := mgr.Full("base", 1000)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "extra.seg"), []byte("more-bytes"), 0o600))
	_, err = mgr.Incremental("inc-1", "base", 2000)
	require.NoError(t, err)

	destDir := t.TempDir()
	require.NoError(t, mgr.Restore("inc-1", destDir, 0))

	restored, err := os.ReadFile(filepath.Join(destDir, "data.pages"))
	require.NoError(t, err)
	assert.Equal(t, "page-bytes", string(restored))

	restoredExtra, err := os.ReadFile(filepath.Join(destDir, "extra.seg"))
	require.NoError(t, err)
	assert.Equal(t, "more-bytes", string(restoredExtra))
}

func TestManager_Differential_RequiresFullBase(t *testing.T) {
	mgr, dataDir := newTestManager(t)

	_, err := mgr.Full("base", 1000)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "extra.seg"), []byte("x"), 0o600))
	_, err = mgr.Incremental("inc-1", "base", 2000)
	require.NoError(t, err)

	_, err = mgr.Differential("diff-1", "inc-1", 3000)
	assert.Error(t, err)
}
