// Package backfill reconciles the archive tree: any topic referenced by an
// archived post but missing a rendered file gets rendered. It is a
// stateless sweep, safe to run repeatedly; the checkpoint is never touched.
package backfill

import (
	"context"

	"go.uber.org/zap"

	"github.com/ColtonBarr/chat-langchain/pkg/archive"
	"github.com/ColtonBarr/chat-langchain/pkg/renderer"
)

// Reconciler renders the set difference between known and rendered topics.
type Reconciler struct {
	root     string
	renderer *renderer.Renderer
	logger   *zap.Logger
}

// New constructs a Reconciler over the archive at root.
func New(root string, r *renderer.Renderer, logger *zap.Logger) *Reconciler {
	return &Reconciler{root: root, renderer: r, logger: logger}
}

// Run scans the archive and renders every unrendered topic.
func (r *Reconciler) Run(ctx context.Context) (*renderer.Stats, error) {
	index, err := archive.ScanIndex(r.root, r.logger)
	if err != nil {
		return nil, err
	}

	remainder := index.Unrendered()
	r.logger.Info("reconciling rendered topics",
		zap.Int("known", len(index.Topics)),
		zap.Int("rendered", len(index.Rendered)),
		zap.Int("remaining", len(remainder)))

	return r.renderer.RenderAll(ctx, remainder)
}
