// Package archive owns the on-disk layout of the content archive: file
// naming, month partitioning, the sync checkpoint and the directory-scan
// index shared by sync and backfill.
package archive

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const (
	// PostsDir holds one raw JSON record per post.
	PostsDir = "posts"
	// TopicsDir holds one rendered markdown document per topic.
	TopicsDir = "rendered-topics"

	postNameMax  = 100
	topicNameMax = 150

	usernameMax = 10
	slugMax     = 50
)

var (
	invalidChars   = regexp.MustCompile(`[<>:"/\\|?*]`)
	topicIDPattern = regexp.MustCompile(`-id(\d+)\.md$`)
)

// sanitizeComponent makes an untrusted string safe to embed in a file
// name: forbidden characters become underscores, control characters are
// dropped, and the result is truncated to max runes. Truncation happens on
// rune boundaries so multi-byte input stays valid UTF-8.
func sanitizeComponent(s string, max int) string {
	s = invalidChars.ReplaceAllString(s, "_")
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	if r := []rune(s); len(r) > max {
		s = string(r[:max])
	}
	if s == "" {
		s = "_"
	}
	return s
}

// MonthDir returns the partition folder for a creation date, e.g.
// "2024-03-March".
func MonthDir(t time.Time) string {
	return fmt.Sprintf("%d-%02d-%s", t.Year(), int(t.Month()), t.Month().String())
}

// PostFilename builds the file name for a raw post record:
// <zero-padded id>-<username>-<topic slug>.json, bounded to 100 runes.
// The zero-padded ID keeps lexicographic order close to ID order within a
// folder.
func PostFilename(id int64, username, topicSlug string) string {
	idstr := fmt.Sprintf("%010d", id)
	username = sanitizeComponent(username, usernameMax)
	// The slug budget is whatever the length bound leaves after the fixed
	// parts, so the ID and extension always survive.
	budget := postNameMax - len(idstr) - len(".json") - 2 - len([]rune(username))
	if budget > slugMax {
		budget = slugMax
	}
	slug := sanitizeComponent(topicSlug, budget)
	return fmt.Sprintf("%s-%s-%s.json", idstr, username, slug)
}

// TopicFilename builds the file name for a rendered topic:
// <date>-<slug>-id<zero-padded id>.md, bounded to 150 runes. The id token
// is the dedup key recovered by TopicIDFromName, so the slug is truncated
// first and the token is never clamped away.
func TopicFilename(id int64, slug string, createdAt time.Time) string {
	date := createdAt.Format("2006-01-02")
	idstr := fmt.Sprintf("%010d", id)
	budget := topicNameMax - len(date) - len("-id") - len(idstr) - len(".md") - 1
	if budget > slugMax {
		budget = slugMax
	}
	return fmt.Sprintf("%s-%s-id%s.md", date, sanitizeComponent(slug, budget), idstr)
}

// TopicIDFromName parses the topic identifier back out of a rendered topic
// file name. The second return is false for names that don't match the
// scheme.
func TopicIDFromName(name string) (int64, bool) {
	m := topicIDPattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
