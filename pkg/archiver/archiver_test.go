package archiver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ColtonBarr/chat-langchain/internal/config"
	"github.com/ColtonBarr/chat-langchain/pkg/archive"
	"github.com/ColtonBarr/chat-langchain/pkg/fetcher"
)

var base = time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

func createdAt(id int64) time.Time {
	return base.Add(time.Duration(id) * time.Minute)
}

func postRecord(id, topicID int64) map[string]any {
	return map[string]any{
		"id":          id,
		"username":    fmt.Sprintf("user%d", id%3),
		"created_at":  createdAt(id).Format(time.RFC3339),
		"topic_id":    topicID,
		"topic_slug":  fmt.Sprintf("topic-%d", topicID),
		"topic_title": fmt.Sprintf("Topic %d", topicID),
	}
}

// fakeForum mimics the Discourse listing, including the implicit "before
// minus ~50" window that makes empty pages ambiguous.
type fakeForum struct {
	posts    []map[string]any // descending by id
	window   int64
	pageSize int
	requests []string
}

func (f *fakeForum) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/posts.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		f.requests = append(f.requests, r.URL.RawQuery)

		var out []map[string]any
		beforeParam := r.URL.Query().Get("before")
		for _, p := range f.posts {
			id := p["id"].(int64)
			if beforeParam != "" {
				before, _ := strconv.ParseInt(beforeParam, 10, 64)
				if id > before || id <= before-f.window {
					continue
				}
			}
			out = append(out, p)
			if len(out) == f.pageSize {
				break
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"latest_posts": out})
	})
}

func newForum(groups ...[2]int64) *fakeForum {
	f := &fakeForum{window: 50, pageSize: 20}
	for _, g := range groups {
		for id := g[0]; id >= g[1]; id-- {
			f.posts = append(f.posts, postRecord(id, 1+id%2))
		}
	}
	return f
}

func newArchiver(t *testing.T, serverURL, root string) *Archiver {
	t.Helper()
	fetchCfg := config.FetchConfig{
		Timeout:     5 * time.Second,
		BackoffBase: time.Millisecond,
		BackoffMax:  20 * time.Millisecond,
		UserAgent:   "discourse-archive-test",
	}
	client := fetcher.New(serverURL, fetchCfg, zap.NewNop())
	cursorCfg := config.CursorConfig{Window: 49, ProbeDelay: 0, MaxProbes: 10}
	return New(client, root, config.ArchiveConfig{}, cursorCfg, zap.NewNop())
}

func countPostFiles(t *testing.T, root string) int {
	t.Helper()
	count := 0
	filepath.WalkDir(filepath.Join(root, archive.PostsDir), func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() && strings.HasSuffix(path, ".json") {
			count++
		}
		return nil
	})
	return count
}

func TestRunArchivesFullHistory(t *testing.T) {
	forum := newForum([2]int64{120, 101})
	server := httptest.NewServer(forum.handler())
	defer server.Close()

	root := t.TempDir()
	a := newArchiver(t, server.URL, root)

	res, err := a.Run(context.Background(), time.Time{}, false)
	require.NoError(t, err)

	assert.Equal(t, 20, res.Saved)
	assert.Equal(t, 20, countPostFiles(t, root))
	assert.True(t, res.Newest.Equal(createdAt(120)),
		"checkpoint candidate must be the newest post's creation time")
	assert.Len(t, res.Topics, 2, "topics deduplicated by ID")
}

func TestRunStopsAtCutoff(t *testing.T) {
	forum := newForum([2]int64{120, 101})
	server := httptest.NewServer(forum.handler())
	defer server.Close()

	root := t.TempDir()
	a := newArchiver(t, server.URL, root)

	cutoff := createdAt(111)
	res, err := a.Run(context.Background(), cutoff, true)
	require.NoError(t, err)

	// Posts 120..111 are at or after the cutoff; 110 and older are not.
	assert.Equal(t, 10, res.Saved)
	assert.Equal(t, 10, countPostFiles(t, root))
	assert.True(t, res.Newest.Equal(createdAt(120)))
}

func TestRunRecoversAcrossCursorWindow(t *testing.T) {
	// A hole between IDs 116 and 30 bigger than the server window: the
	// page at before=115 is empty even though older posts exist.
	forum := newForum([2]int64{120, 116}, [2]int64{30, 26})
	forum.pageSize = 5
	server := httptest.NewServer(forum.handler())
	defer server.Close()

	root := t.TempDir()
	a := newArchiver(t, server.URL, root)

	res, err := a.Run(context.Background(), time.Time{}, false)
	require.NoError(t, err)

	assert.Equal(t, 10, res.Saved, "posts on the far side of the hole must be found")
	assert.Contains(t, forum.requests, "before=115")
	assert.Contains(t, forum.requests, "before=66", "cursor should probe below the window")
}

func TestRunSecondPassIsIdempotent(t *testing.T) {
	forum := newForum([2]int64{120, 101})
	server := httptest.NewServer(forum.handler())
	defer server.Close()

	root := t.TempDir()
	a := newArchiver(t, server.URL, root)

	res, err := a.Run(context.Background(), time.Time{}, false)
	require.NoError(t, err)
	require.NoError(t, archive.SaveCheckpoint(root, res.Newest))
	firstCount := countPostFiles(t, root)

	checkpoint, ok, err := archive.LoadCheckpoint(root)
	require.NoError(t, err)
	require.True(t, ok)

	// No new upstream posts; resume with a zero margin for determinism.
	res2, err := a.Run(context.Background(), checkpoint, true)
	require.NoError(t, err)

	assert.Equal(t, firstCount, countPostFiles(t, root),
		"re-fetches within the margin overwrite, never duplicate")
	assert.True(t, res2.Newest.Equal(res.Newest))
}

func TestRunEmptyListing(t *testing.T) {
	forum := newForum()
	server := httptest.NewServer(forum.handler())
	defer server.Close()

	a := newArchiver(t, server.URL, t.TempDir())
	res, err := a.Run(context.Background(), time.Time{}, false)
	require.NoError(t, err)

	assert.Zero(t, res.Saved)
	assert.True(t, res.Newest.IsZero(), "a run that saw no posts must not advance the checkpoint")
}

func TestRunHaltsOnMalformedPost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"latest_posts":[{"id":5,"topic_id":1,"topic_slug":"s"}]}`))
	}))
	defer server.Close()

	a := newArchiver(t, server.URL, t.TempDir())
	_, err := a.Run(context.Background(), time.Time{}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing username")
}

func TestCursorProbeBudget(t *testing.T) {
	cursor := NewCursor(config.CursorConfig{Window: 49, ProbeDelay: 0, MaxProbes: 3}, zap.NewNop())

	calls := 0
	empty := func(ctx context.Context, before int64) ([]json.RawMessage, error) {
		calls++
		return nil, nil
	}

	posts, err := cursor.Next(context.Background(), 100000, empty)
	require.NoError(t, err)
	assert.Nil(t, posts, "probe exhaustion is end-of-history, not an error")
	assert.Equal(t, 4, calls, "initial fetch plus three probes")
}

func TestCursorStopsAtMinimumID(t *testing.T) {
	cursor := NewCursor(config.CursorConfig{Window: 49, ProbeDelay: 0, MaxProbes: 100}, zap.NewNop())

	var probed []int64
	empty := func(ctx context.Context, before int64) ([]json.RawMessage, error) {
		probed = append(probed, before)
		return nil, nil
	}

	posts, err := cursor.Next(context.Background(), 60, empty)
	require.NoError(t, err)
	assert.Nil(t, posts)
	for _, b := range probed {
		assert.GreaterOrEqual(t, b, int64(1))
	}

	posts, err = cursor.Next(context.Background(), 1, empty)
	require.NoError(t, err)
	assert.Nil(t, posts, "cursor at the lowest post ID is end-of-history")
}

func TestCursorPropagatesFetchErrors(t *testing.T) {
	cursor := NewCursor(config.CursorConfig{Window: 49, ProbeDelay: 0, MaxProbes: 3}, zap.NewNop())

	boom := func(ctx context.Context, before int64) ([]json.RawMessage, error) {
		return nil, fmt.Errorf("listing unavailable")
	}
	_, err := cursor.Next(context.Background(), 100, boom)
	assert.Error(t, err)
}
