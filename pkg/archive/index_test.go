package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writePostFile(t *testing.T, root string, postID, topicID int64, slug string) {
	t.Helper()
	dir := filepath.Join(root, PostsDir, "2024-03-March")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	body := fmt.Sprintf(`{"id":%d,"topic_id":%d,"topic_slug":%q,"topic_title":"t"}`, postID, topicID, slug)
	require.NoError(t, os.WriteFile(filepath.Join(dir, PostFilename(postID, "u", slug)), []byte(body), 0o644))
}

func writeRenderedFile(t *testing.T, root string, topicID int64, slug string) {
	t.Helper()
	dir := filepath.Join(root, TopicsDir, "2024-03-March")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	name := TopicFilename(topicID, slug, march5)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("# t\n\nbody"), 0o644))
}

func TestScanIndexEmptyTree(t *testing.T) {
	ix, err := ScanIndex(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, ix.Topics)
	assert.Empty(t, ix.Rendered)
}

func TestScanIndex(t *testing.T) {
	root := t.TempDir()
	// Two posts in the same topic, one in another.
	writePostFile(t, root, 101, 5, "first-topic")
	writePostFile(t, root, 102, 5, "first-topic")
	writePostFile(t, root, 103, 9, "second-topic")
	writeRenderedFile(t, root, 5, "first-topic")

	ix, err := ScanIndex(root, zap.NewNop())
	require.NoError(t, err)

	require.Len(t, ix.Topics, 2, "topics must be deduplicated by ID")
	assert.Equal(t, int64(5), ix.Topics[0].ID)
	assert.Equal(t, int64(9), ix.Topics[1].ID)

	assert.True(t, ix.IsRendered(5))
	assert.False(t, ix.IsRendered(9))

	remaining := ix.Unrendered()
	require.Len(t, remaining, 1)
	assert.Equal(t, int64(9), remaining[0].ID)
	assert.Equal(t, "second-topic", remaining[0].Slug)
}

func TestScanIndexSkipsDamagedFiles(t *testing.T) {
	root := t.TempDir()
	writePostFile(t, root, 101, 5, "ok-topic")

	dir := filepath.Join(root, PostsDir, "2024-03-March")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0000000102-u-bad.json"), []byte("{"), 0o644))

	topicsDir := filepath.Join(root, TopicsDir, "2024-03-March")
	require.NoError(t, os.MkdirAll(topicsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(topicsDir, "notes.txt"), []byte("x"), 0o644))

	ix, err := ScanIndex(root, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, ix.Topics, 1)
	assert.Empty(t, ix.Rendered)
}
