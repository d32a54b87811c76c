// Package renderer assembles full topic documents from the paginated
// Discourse /raw endpoint and writes them into the archive tree.
package renderer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ColtonBarr/chat-langchain/internal/models"
	"github.com/ColtonBarr/chat-langchain/pkg/archive"
	"github.com/ColtonBarr/chat-langchain/pkg/fetcher"
)

// Stats summarizes a rendering pass.
type Stats struct {
	Rendered int
	Skipped  int
}

// Renderer fetches topic metadata and paginated raw content, and writes
// one markdown document per topic.
type Renderer struct {
	client  *fetcher.Client
	root    string
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New constructs a Renderer writing under root, pausing delay between
// topics to respect the API's informal rate tolerance.
func New(client *fetcher.Client, root string, delay time.Duration, logger *zap.Logger) *Renderer {
	return &Renderer{
		client:  client,
		root:    root,
		limiter: rate.NewLimiter(rate.Every(delay), 1),
		logger:  logger,
	}
}

// RenderAll renders each topic in order. Unrenderable topics (empty first
// page) are skipped with a warning; any other error aborts the pass, since
// it is either a dead endpoint or a changed API contract.
func (r *Renderer) RenderAll(ctx context.Context, topics []models.PostTopic) (*Stats, error) {
	stats := &Stats{}
	for _, topic := range topics {
		if err := r.limiter.Wait(ctx); err != nil {
			return stats, err
		}
		rendered, err := r.RenderTopic(ctx, topic)
		if err != nil {
			return stats, err
		}
		if rendered {
			stats.Rendered++
		} else {
			stats.Skipped++
		}
	}
	r.logger.Info("rendering finished",
		zap.Int("rendered", stats.Rendered), zap.Int("skipped", stats.Skipped))
	return stats, nil
}

// RenderTopic fetches a topic's metadata and full raw body and writes the
// rendered document. It returns false without error when the topic is
// unrenderable (deleted or restricted upstream).
func (r *Renderer) RenderTopic(ctx context.Context, ref models.PostTopic) (bool, error) {
	var meta models.TopicMetadata
	if err := r.client.GetJSON(ctx, fmt.Sprintf("/t/%d.json", ref.ID), &meta); err != nil {
		return false, err
	}

	body, err := r.assembleBody(ctx, ref.ID)
	if err != nil {
		return false, err
	}
	if body == "" {
		r.logger.Warn("could not retrieve topic markdown, skipping",
			zap.Int64("id", ref.ID), zap.String("slug", ref.Slug))
		return false, nil
	}

	topic, err := r.buildTopic(ref, meta, body)
	if err != nil {
		return false, err
	}
	if err := r.saveRendered(topic); err != nil {
		return false, err
	}
	r.logger.Info("saved topic", zap.Int64("id", topic.ID), zap.String("slug", topic.Slug))
	return true, nil
}

// assembleBody concatenates the non-empty pages of /raw/<id>. Page 1 is
// fetched bare; pages 2, 3, ... follow until the endpoint returns an empty
// page.
func (r *Renderer) assembleBody(ctx context.Context, id int64) (string, error) {
	first, err := r.client.Get(ctx, fmt.Sprintf("/raw/%d", id))
	if err != nil {
		return "", err
	}
	body := string(first)
	if body == "" {
		return "", nil
	}

	for page := 2; ; page++ {
		more, err := r.client.Get(ctx, fmt.Sprintf("/raw/%d?page=%d", id, page))
		if err != nil {
			return "", err
		}
		if len(more) == 0 {
			break
		}
		body += "\n" + string(more)
	}
	return body, nil
}

func (r *Renderer) buildTopic(ref models.PostTopic, meta models.TopicMetadata, body string) (*models.Topic, error) {
	slug := meta.Slug
	if slug == "" {
		slug = ref.Slug
	}
	title := meta.Title
	if title == "" {
		title = ref.Title
	}
	createdAt, err := meta.Created()
	if err != nil {
		return nil, err
	}
	return &models.Topic{
		ID:        ref.ID,
		Slug:      slug,
		Title:     title,
		CreatedAt: createdAt,
		Body:      body,
	}, nil
}

// saveRendered writes the document: a title heading, the assembled body,
// and a trailing link back to the source so the archived text stays
// traceable.
func (r *Renderer) saveRendered(topic *models.Topic) error {
	dir := filepath.Join(r.root, archive.TopicsDir, archive.MonthDir(topic.CreatedAt))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create topics dir: %w", err)
	}
	path := filepath.Join(dir, archive.TopicFilename(topic.ID, topic.Slug, topic.CreatedAt))

	var doc strings.Builder
	fmt.Fprintf(&doc, "# %s\n\n", topic.Title)
	doc.WriteString(topic.Body)
	fmt.Fprintf(&doc, "\n\n[Link to the original post](%s/t/%s/%d)",
		r.client.BaseURL(), topic.Slug, topic.ID)

	r.logger.Info("saving topic markdown", zap.Int64("id", topic.ID), zap.String("path", path))
	if err := os.WriteFile(path, []byte(doc.String()), 0o644); err != nil {
		return fmt.Errorf("write topic %d: %w", topic.ID, err)
	}
	return nil
}
