package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Post is a single Discourse post as returned by the /posts.json listing.
// Raw carries the untouched record; it is what gets persisted, so new
// upstream fields survive a round trip without a schema change here.
type Post struct {
	ID         int64
	TopicID    int64
	TopicSlug  string
	TopicTitle string
	Username   string
	CreatedAt  time.Time
	Raw        json.RawMessage
}

// PostTopic identifies the topic a post belongs to. Identity is the ID;
// slugs are mutable upstream and must never be used as a dedup key.
type PostTopic struct {
	ID    int64  `json:"topic_id"`
	Slug  string `json:"topic_slug"`
	Title string `json:"topic_title"`
}

// Topic is a fully assembled discussion thread: its metadata record plus
// the markdown body concatenated from the paginated /raw endpoint.
type Topic struct {
	ID        int64
	Slug      string
	Title     string
	CreatedAt time.Time
	Raw       json.RawMessage
	Body      string
}

// ListingPage is one page of the /posts.json listing. Entries are kept raw
// so each post can be validated (and persisted) individually.
type ListingPage struct {
	LatestPosts []json.RawMessage `json:"latest_posts"`
}

type postRecord struct {
	ID         *int64  `json:"id"`
	TopicID    *int64  `json:"topic_id"`
	TopicSlug  *string `json:"topic_slug"`
	TopicTitle string  `json:"topic_title"`
	Username   *string `json:"username"`
	CreatedAt  *string `json:"created_at"`
}

// ParsePost validates a raw listing entry into a Post. A missing or
// malformed required field is an error: a single bad record usually means
// the API contract changed, which is worth halting on.
func ParsePost(raw json.RawMessage) (*Post, error) {
	var rec postRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode post record: %w", err)
	}
	switch {
	case rec.ID == nil:
		return nil, fmt.Errorf("post record missing id")
	case rec.TopicID == nil:
		return nil, fmt.Errorf("post %d missing topic_id", *rec.ID)
	case rec.TopicSlug == nil:
		return nil, fmt.Errorf("post %d missing topic_slug", *rec.ID)
	case rec.Username == nil:
		return nil, fmt.Errorf("post %d missing username", *rec.ID)
	case rec.CreatedAt == nil:
		return nil, fmt.Errorf("post %d missing created_at", *rec.ID)
	}
	createdAt, err := time.Parse(time.RFC3339, *rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("post %d has bad created_at %q: %w", *rec.ID, *rec.CreatedAt, err)
	}
	return &Post{
		ID:         *rec.ID,
		TopicID:    *rec.TopicID,
		TopicSlug:  *rec.TopicSlug,
		TopicTitle: rec.TopicTitle,
		Username:   *rec.Username,
		CreatedAt:  createdAt,
		Raw:        raw,
	}, nil
}

// Topic returns the owning topic reference of a post.
func (p *Post) Topic() PostTopic {
	return PostTopic{ID: p.TopicID, Slug: p.TopicSlug, Title: p.TopicTitle}
}

// TopicMetadata is the subset of /t/<id>.json the renderer cares about.
type TopicMetadata struct {
	ID        int64  `json:"id"`
	Slug      string `json:"slug"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
}

// Created parses the topic's creation timestamp.
func (m *TopicMetadata) Created() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, m.CreatedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("topic %d has bad created_at %q: %w", m.ID, m.CreatedAt, err)
	}
	return t, nil
}
