package codec

import (
	"fmt"

	"github.com/dmitrijs2005/kehilla/internal/common"
	"github.com/dmitrijs2005/kehilla/internal/docstore"
	"github.com/dmitrijs2005/kehilla/internal/models"
)

// DecodePost normalizes media stored as a single object, a list, or the
// legacy top-level imageUrl/imagePath pair, and recomputes LikeCount from
// the liker set.
func DecodePost(id string, f docstore.Fields) (models.SocialPost, error) {
	r := newReader(f)
	p := models.SocialPost{
		ID:           id,
		AuthorName:   r.optionalString("authorName", ""),
		AuthorEmail:  r.requiredString("authorEmail"),
		Content:      r.optionalString("content", ""),
		Timestamp:    r.requiredTime("timestamp"),
		Likers:       r.stringList("likes"),
		ReplyCount:   r.optionalInt("replyCount", 0),
		ParentPostID: r.optionalString("parentPostId", ""),
	}
	if t, ok := r.optionalTime("editedAt"); ok {
		p.EditedAt = &t
	}
	if r.err != nil {
		return models.SocialPost{}, r.err
	}
	p.Likers = dedupe(p.Likers)
	p.LikeCount = len(p.Likers)

	media, err := decodeMedia(f)
	if err != nil {
		return models.SocialPost{}, err
	}
	p.Media = media

	if p.Content == "" && len(p.Media) == 0 {
		return models.SocialPost{}, &FieldError{Field: "content", Reason: "post has neither content nor media"}
	}
	return p, nil
}

func decodeMedia(f docstore.Fields) ([]models.Media, error) {
	var raw []any
	switch v := f["media"].(type) {
	case nil:
		if url, ok := f["imageUrl"].(string); ok && url != "" {
			path, _ := f["imagePath"].(string)
			raw = []any{map[string]any{"url": url, "path": path}}
		}
	default:
		if m, ok := Map(v); ok {
			raw = []any{m}
		} else if l, ok := List(v); ok {
			raw = l
		} else {
			return nil, &FieldError{Field: "media", Reason: fmt.Sprintf("want map or list, got %T", v)}
		}
	}

	if len(raw) > common.MaxPostMedia {
		return nil, &FieldError{Field: "media", Reason: fmt.Sprintf("%d items, at most %d allowed", len(raw), common.MaxPostMedia)}
	}

	out := make([]models.Media, 0, len(raw))
	for i, e := range raw {
		m, ok := Map(e)
		if !ok {
			return nil, &FieldError{Field: fmt.Sprintf("media[%d]", i), Reason: "want map"}
		}
		r := newReader(m)
		md := models.Media{
			URL:    r.requiredString("url"),
			Path:   r.optionalString("path", ""),
			Width:  r.optionalInt("width", 0),
			Height: r.optionalInt("height", 0),
			Size:   int64(r.optionalNumber("size", 0)),
		}
		if r.err != nil {
			return nil, fmt.Errorf("media[%d]: %w", i, r.err)
		}
		out = append(out, md)
	}
	return out, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func EncodeMedia(media []models.Media) []any {
	out := make([]any, len(media))
	for i, m := range media {
		out[i] = map[string]any{
			"path":   m.Path,
			"url":    m.URL,
			"width":  m.Width,
			"height": m.Height,
			"size":   m.Size,
		}
	}
	return out
}

// EncodeStrings produces a stored string list.
func EncodeStrings(likers []string) []any {
	out := make([]any, len(likers))
	for i, l := range likers {
		out[i] = l
	}
	return out
}

// EncodePost omits replyCount, which only the server maintains.
func EncodePost(p models.SocialPost) docstore.Fields {
	f := docstore.Fields{
		"authorName":  p.AuthorName,
		"authorEmail": p.AuthorEmail,
		"content":     p.Content,
		"timestamp":   p.Timestamp,
		"likes":       EncodeStrings(p.Likers),
		"likeCount":   len(p.Likers),
		"media":       EncodeMedia(p.Media),
	}
	if p.EditedAt != nil {
		f["editedAt"] = *p.EditedAt
	}
	if p.ParentPostID != "" {
		f["parentPostId"] = p.ParentPostID
	}
	return f
}
