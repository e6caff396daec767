// Package content cleans user-entered text before it is stored: markup is
// stripped, Unicode is normalized to NFC and lengths are counted in runes.
package content

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dmitrijs2005/kehilla/internal/common"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var strict = bluemonday.StrictPolicy()

// Clean strips markup and control characters, normalizes to NFC and trims
// surrounding whitespace. Newlines and tabs survive.
func Clean(s string) string {
	s = html.UnescapeString(strict.Sanitize(s))
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(norm.NFC.String(s))
}

// Length counts user-perceived characters as runes after NFC.
func Length(s string) int {
	return utf8.RuneCountInString(norm.NFC.String(s))
}

// Post cleans a post body. A body may be empty only when media is
// attached.
func Post(s string, maxLen, mediaCount int) (string, error) {
	c := Clean(s)
	if c == "" && mediaCount == 0 {
		return "", common.ErrInvalidContent.WithMessage("post needs text or media")
	}
	if n := Length(c); n > maxLen {
		return "", common.ErrInvalidContent.WithMessage("post is %d characters, limit %d", n, maxLen)
	}
	if mediaCount > common.MaxPostMedia {
		return "", common.ErrInvalidContent.WithMessage("%d attachments, limit %d", mediaCount, common.MaxPostMedia)
	}
	return c, nil
}

// Message cleans a chat message, which must not be empty.
func Message(s string, maxLen int) (string, error) {
	c := Clean(s)
	if c == "" {
		return "", common.ErrInvalidContent.WithMessage("empty message")
	}
	if n := Length(c); n > maxLen {
		return "", common.ErrInvalidContent.WithMessage("message is %d characters, limit %d", n, maxLen)
	}
	return c, nil
}

// Name cleans a display name and enforces its length bounds.
func Name(s string) (string, error) {
	c := strings.Join(strings.Fields(Clean(s)), " ")
	if n := Length(c); n < common.MinNameLength || n > common.MaxNameLength {
		return "", common.ErrInvalidName.WithMessage("name must be %d-%d characters", common.MinNameLength, common.MaxNameLength)
	}
	return c, nil
}

// Optional cleans free text that may be empty, truncating to maxLen runes.
func Optional(s string, maxLen int) string {
	c := Clean(s)
	if maxLen > 0 && Length(c) > maxLen {
		r := []rune(c)
		c = strings.TrimSpace(string(r[:maxLen]))
	}
	return c
}
