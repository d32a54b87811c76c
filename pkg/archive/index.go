package archive

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ColtonBarr/chat-langchain/internal/models"
)

// Index is the single source of truth for "what is already on disk",
// rebuilt by scanning the archive tree. The incremental run and the
// backfill sweep both consult it, so their dedup logic cannot drift.
type Index struct {
	// Topics are the distinct topics referenced by archived posts,
	// ordered by ID.
	Topics []models.PostTopic
	// Rendered holds the IDs of topics that already have a rendered file.
	Rendered map[int64]bool
}

// IsRendered reports whether a rendered file exists for the topic ID.
func (ix *Index) IsRendered(id int64) bool { return ix.Rendered[id] }

// Unrendered returns the topics referenced by archived posts that have no
// rendered file yet.
func (ix *Index) Unrendered() []models.PostTopic {
	var out []models.PostTopic
	for _, t := range ix.Topics {
		if !ix.Rendered[t.ID] {
			out = append(out, t)
		}
	}
	return out
}

// ScanIndex walks the archive tree under root, collecting topic references
// from raw post files and rendered topic IDs from file names. Missing
// partitions yield an empty index; unreadable individual files are logged
// and skipped so one damaged record cannot block a maintenance sweep.
func ScanIndex(root string, logger *zap.Logger) (*Index, error) {
	ix := &Index{Rendered: map[int64]bool{}}

	seen := map[int64]models.PostTopic{}
	postsRoot := filepath.Join(root, PostsDir)
	err := filepath.WalkDir(postsRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("skipping unreadable post file", zap.String("path", path), zap.Error(err))
			return nil
		}
		var ref models.PostTopic
		if err := json.Unmarshal(data, &ref); err != nil || ref.ID == 0 {
			logger.Warn("skipping post file without a topic reference", zap.String("path", path))
			return nil
		}
		if _, ok := seen[ref.ID]; !ok {
			seen[ref.ID] = ref
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, t := range seen {
		ix.Topics = append(ix.Topics, t)
	}
	sort.Slice(ix.Topics, func(i, j int) bool { return ix.Topics[i].ID < ix.Topics[j].ID })

	topicsRoot := filepath.Join(root, TopicsDir)
	err = filepath.WalkDir(topicsRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if id, ok := TopicIDFromName(d.Name()); ok {
			ix.Rendered[id] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return ix, nil
}
