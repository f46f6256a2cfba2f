// Package content composes the displayable structure for a message: format
// tokens, sanitized links, embeds, and mention/custom-emoji hits. Rendering
// itself (markup to pixels) is the UI's job; everything here is a pure
// transformation over the raw text.
package content

import (
	"errors"
	"html/template"
	"regexp"

	"parley/internal/links"
	"parley/internal/markup"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policy        = bluemonday.UGCPolicy()
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
	mentionRegex  = regexp.MustCompile(`@([a-zA-Z0-9._-]+)`)
	emojiRegex    = regexp.MustCompile(`:([a-zA-Z0-9_]+):`)
)

// Sanitize removes unsafe HTML from the input string using a strict policy.
// It is used for sanitizing user inputs like display names and messages.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// Escape escapes special characters like "<" to become "&lt;".
// It matches the behavior of html/template and is safe for use in HTML attributes.
func Escape(input string) string {
	return template.HTMLEscapeString(input)
}

// ValidateUsername checks if the username contains only allowed characters
// (alphanumeric, dot, dash, underscore) and is not empty.
func ValidateUsername(username string) error {
	if username == "" {
		return errors.New("username cannot be empty")
	}
	if !usernameRegex.MatchString(username) {
		return errors.New("username contains invalid characters (allowed: alphanumeric, dot, dash, underscore)")
	}
	return nil
}

// Lookups resolve mention and emoji candidates against the session's known
// users and custom emoji; both come from the conversation store's tables.
type Lookups struct {
	UserExists func(username string) bool
	EmojiURL   func(name string) (string, bool)
}

// Rendered is the full input the display layer needs for one message.
type Rendered struct {
	Tokens   []markup.Token
	Links    []links.Link
	Embeds   []links.Link
	Mentions []string
	Emoji    map[string]string // :name: -> image URL

	// Clean is the raw text with unsafe HTML stripped, for hosts that
	// render message bodies as markup.
	Clean string

	// Inert maps candidates that failed link sanitization to their
	// escaped display form; they must never render as clickable links.
	Inert map[string]string
}

// Render transforms raw message text. Mentions of unknown users and
// unknown :emoji: names stay plain text; every distinct embeddable URL
// appears once in Embeds while Links keeps every occurrence.
func Render(text string, extractor *links.Extractor, lk Lookups) Rendered {
	r := Rendered{
		Tokens: markup.Tokenize(text),
		Links:  extractor.Extract(text),
		Clean:  Sanitize(text),
	}
	r.Embeds = links.DedupeForEmbeds(r.Links)

	for _, l := range r.Links {
		if l.Kind != links.KindUnsafe {
			continue
		}
		if r.Inert == nil {
			r.Inert = make(map[string]string)
		}
		r.Inert[l.Raw] = Escape(l.Raw)
	}

	for _, match := range mentionRegex.FindAllStringSubmatch(text, -1) {
		name := match[1]
		if lk.UserExists == nil || !lk.UserExists(name) {
			continue
		}
		if !contains(r.Mentions, name) {
			r.Mentions = append(r.Mentions, name)
		}
	}

	for _, match := range emojiRegex.FindAllStringSubmatch(text, -1) {
		name := match[1]
		if lk.EmojiURL == nil {
			continue
		}
		if url, ok := lk.EmojiURL(name); ok {
			if r.Emoji == nil {
				r.Emoji = make(map[string]string)
			}
			r.Emoji[name] = url
		}
	}

	return r
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
