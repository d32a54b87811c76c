// Package archiver walks the Discourse "latest posts" listing backward in
// time, persisting each post's raw record into the archive tree.
package archiver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ColtonBarr/chat-langchain/internal/config"
	"github.com/ColtonBarr/chat-langchain/internal/models"
	"github.com/ColtonBarr/chat-langchain/pkg/archive"
	"github.com/ColtonBarr/chat-langchain/pkg/fetcher"
)

// Result summarizes one listing walk.
type Result struct {
	// Topics are the distinct topics referenced by the posts saved this
	// run, in discovery order.
	Topics []models.PostTopic
	// Newest is the creation time of the most recent post seen; zero when
	// the run saw no posts. It becomes the next checkpoint.
	Newest time.Time
	// Saved counts post files written.
	Saved int
}

// Archiver performs the incremental post walk.
type Archiver struct {
	client *fetcher.Client
	root   string
	cursor *Cursor
	pages  *rate.Limiter
	logger *zap.Logger
}

// New constructs an Archiver writing under root.
func New(client *fetcher.Client, root string, archiveCfg config.ArchiveConfig, cursorCfg config.CursorConfig, logger *zap.Logger) *Archiver {
	return &Archiver{
		client: client,
		root:   root,
		cursor: NewCursor(cursorCfg, logger),
		pages:  rate.NewLimiter(rate.Every(archiveCfg.PageDelay), 1),
		logger: logger,
	}
}

// Run walks the listing from "now" backward until it reaches the cutoff
// (when haveCutoff is set), the lowest valid post ID, or genuine
// end-of-history. A post that fails to deserialize aborts the run: one
// malformed record usually means the API schema changed.
func (a *Archiver) Run(ctx context.Context, cutoff time.Time, haveCutoff bool) (*Result, error) {
	res := &Result{}
	seenTopics := map[int64]bool{}

	posts, err := a.listPage(ctx, 0)
	if err != nil {
		return nil, err
	}

	var lowestID int64
	for len(posts) > 0 {
		a.logger.Info("processing posts", zap.Int("count", len(posts)))

		done := false
		for _, raw := range posts {
			post, err := models.ParsePost(raw)
			if err != nil {
				a.logger.Error("failed to deserialize post",
					zap.ByteString("record", raw), zap.Error(err))
				return nil, err
			}

			if haveCutoff && post.CreatedAt.Before(cutoff) {
				// Everything after this post on this page is older still.
				done = true
				break
			}

			// The listing is in descending recency, so the first post kept
			// is the most recent item of the whole run.
			if res.Newest.IsZero() {
				res.Newest = post.CreatedAt
			}

			if err := a.savePost(post); err != nil {
				return nil, err
			}
			res.Saved++
			lowestID = post.ID

			if !seenTopics[post.TopicID] {
				seenTopics[post.TopicID] = true
				res.Topics = append(res.Topics, post.Topic())
			}
		}

		if done || lowestID <= 1 {
			a.logger.Info("no new posts, stopping")
			break
		}

		if err := a.pages.Wait(ctx); err != nil {
			return nil, err
		}
		posts, err = a.cursor.Next(ctx, lowestID, a.listPage)
		if err != nil {
			return nil, err
		}
	}

	a.logger.Info("listing walk finished",
		zap.Int("saved", res.Saved), zap.Int("topics", len(res.Topics)))
	return res, nil
}

// listPage fetches one page of the latest-posts listing. A before value of
// zero means the first (newest) page.
func (a *Archiver) listPage(ctx context.Context, before int64) ([]json.RawMessage, error) {
	path := "/posts.json"
	if before > 0 {
		path = fmt.Sprintf("/posts.json?before=%d", before)
	}
	var page models.ListingPage
	if err := a.client.GetJSON(ctx, path, &page); err != nil {
		return nil, err
	}
	return page.LatestPosts, nil
}

// savePost writes the post's raw record to its month-partitioned file.
// The name is deterministic, so a re-fetch within the resync margin
// overwrites the same file instead of duplicating it.
func (a *Archiver) savePost(post *models.Post) error {
	dir := filepath.Join(a.root, archive.PostsDir, archive.MonthDir(post.CreatedAt))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create posts dir: %w", err)
	}
	path := filepath.Join(dir, archive.PostFilename(post.ID, post.Username, post.TopicSlug))

	var buf bytes.Buffer
	if err := json.Indent(&buf, post.Raw, "", "  "); err != nil {
		return fmt.Errorf("indent post %d: %w", post.ID, err)
	}
	a.logger.Info("saving post", zap.Int64("id", post.ID), zap.String("path", path))
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write post %d: %w", post.ID, err)
	}
	return nil
}
