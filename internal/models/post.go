package models

import "time"

// Media is one attachment of a SocialPost.
type Media struct {
	Path   string
	URL    string
	Width  int
	Height int
	Size   int64
}

// SocialPost is a top-level post or, when ParentPostID is set, a reply.
// LikeCount is stored alongside Likers and always equals len(Likers).
type SocialPost struct {
	ID           string
	AuthorName   string
	AuthorEmail  string
	Content      string
	Timestamp    time.Time
	EditedAt     *time.Time
	Likers       []string
	LikeCount    int
	ReplyCount   int
	ParentPostID string
	Media        []Media
}

// IsReply reports whether the post answers another post.
func (p SocialPost) IsReply() bool {
	return p.ParentPostID != ""
}

// LikedBy reports whether email is in the liker set.
func (p SocialPost) LikedBy(email string) bool {
	for _, l := range p.Likers {
		if l == email {
			return true
		}
	}
	return false
}
