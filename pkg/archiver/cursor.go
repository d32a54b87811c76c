package archiver

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/ColtonBarr/chat-langchain/internal/config"
)

// listFunc fetches one listing page of raw post records for a "before"
// cursor value.
type listFunc func(ctx context.Context, before int64) ([]json.RawMessage, error)

// Cursor walks the "before this ID" pagination backward, working around an
// undocumented Discourse quirk: the listing only considers IDs within a
// fixed window (about 50) behind the cursor, so an empty page does not
// mean end-of-history. The window size, probe pacing and probe budget are
// injectable so the behavior is testable without a live server.
type Cursor struct {
	window     int64
	probeDelay time.Duration
	maxProbes  int
	logger     *zap.Logger
}

// NewCursor builds a Cursor from configuration.
func NewCursor(cfg config.CursorConfig, logger *zap.Logger) *Cursor {
	return &Cursor{
		window:     cfg.Window,
		probeDelay: cfg.ProbeDelay,
		maxProbes:  cfg.MaxProbes,
		logger:     logger,
	}
}

// Next fetches the page before the given post ID, probing downward through
// empty windows. It returns a nil page at genuine end-of-history: cursor
// at the minimum valid ID, or probe budget exhausted.
func (c *Cursor) Next(ctx context.Context, lowestID int64, fetch listFunc) ([]json.RawMessage, error) {
	before := lowestID - 1
	if before < 1 {
		return nil, nil
	}

	posts, err := fetch(ctx, before)
	if err != nil {
		return nil, err
	}

	probes := 0
	for len(posts) == 0 && before >= 1 {
		probes++
		if probes > c.maxProbes {
			c.logger.Info("cursor probe budget exhausted, assuming end of history",
				zap.Int64("before", before), zap.Int("probes", probes-1))
			return nil, nil
		}
		// Step by slightly less than the server's window so no IDs can
		// fall between two probes.
		before -= c.window
		if before < 1 {
			return nil, nil
		}
		c.logger.Debug("empty listing page, probing lower",
			zap.Int64("before", before), zap.Int("probe", probes))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.probeDelay):
		}

		posts, err = fetch(ctx, before)
		if err != nil {
			return nil, err
		}
	}
	return posts, nil
}
