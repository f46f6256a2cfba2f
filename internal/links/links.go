// Package links finds URLs in message text, filters out unsafe schemes and
// classifies the survivors for embedding.
package links

import (
	"net/url"
	"regexp"
	"strings"
)

type Kind string

const (
	KindYouTube Kind = "youtube"
	KindImage   Kind = "image"
	KindVideo   Kind = "video"
	KindGeneric Kind = "generic"
	KindUnsafe  Kind = "unsafe"
)

// Link is one URL candidate. Sanitized is empty and Kind is KindUnsafe when
// the candidate failed sanitization; such candidates must render as inert
// text, never as a clickable link.
type Link struct {
	Raw       string
	Sanitized string
	Kind      Kind
}

var (
	// Default candidate patterns. The bare scheme pattern exists so that
	// dangerous pseudo-links like javascript: are caught and neutralized
	// instead of slipping through as plain text the renderer might trust.
	patternHTTP       = regexp.MustCompile(`https?://\S+`)
	patternScheme     = regexp.MustCompile(`\b[A-Za-z][A-Za-z0-9+.-]*:\S+`)
	patternAttachment = regexp.MustCompile(`/api/download-attachment/\S+`)

	youtubeIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
)

var imageExts = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true,
	"webp": true, "bmp": true, "svg": true,
}

var videoExts = map[string]bool{
	"mp4": true, "webm": true, "ogg": true, "mov": true,
}

// Extractor matches candidates against a configurable pattern set. The zero
// value is not usable; construct with New.
type Extractor struct {
	patterns []*regexp.Regexp
}

func New(patterns ...*regexp.Regexp) *Extractor {
	if len(patterns) == 0 {
		patterns = []*regexp.Regexp{patternHTTP, patternAttachment, patternScheme}
	}
	return &Extractor{patterns: patterns}
}

// Extract returns every candidate in text, in order of appearance,
// sanitized and classified. Overlapping matches from different patterns are
// collapsed to the earliest, longest one.
func (e *Extractor) Extract(text string) []Link {
	type span struct{ start, end int }
	var spans []span
	for _, p := range e.patterns {
		for _, loc := range p.FindAllStringIndex(text, -1) {
			spans = append(spans, span{loc[0], loc[1]})
		}
	}
	if len(spans) == 0 {
		return nil
	}

	// Order by position, prefer longer on ties, then drop overlaps.
	for i := 1; i < len(spans); i++ {
		for j := i; j > 0; j-- {
			a, b := spans[j-1], spans[j]
			if b.start < a.start || (b.start == a.start && b.end > a.end) {
				spans[j-1], spans[j] = b, a
			} else {
				break
			}
		}
	}

	var out []Link
	lastEnd := -1
	for _, sp := range spans {
		if sp.start < lastEnd {
			continue
		}
		lastEnd = sp.end
		raw := text[sp.start:sp.end]
		sanitized := Sanitize(raw)
		if sanitized == "" {
			out = append(out, Link{Raw: raw, Kind: KindUnsafe})
			continue
		}
		out = append(out, Link{Raw: raw, Sanitized: sanitized, Kind: Classify(sanitized)})
	}
	return out
}

// Sanitize accepts relative paths (trusted same-origin) unchanged and
// absolute URLs only with an http or https scheme. Anything else returns "".
func Sanitize(raw string) string {
	if strings.HasPrefix(raw, "/") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "http", "https":
		return raw
	default:
		return ""
	}
}

// Classify picks the embed kind. First matching rule wins; a URL is never
// double-classified.
func Classify(sanitized string) Kind {
	if youtubeID(sanitized) != "" {
		return KindYouTube
	}
	ext := pathExt(sanitized)
	switch {
	case imageExts[ext]:
		return KindImage
	case videoExts[ext]:
		return KindVideo
	default:
		return KindGeneric
	}
}

// YouTubeID returns the 11-character video id, or "" when the URL is not a
// recognized YouTube watch link.
func YouTubeID(sanitized string) string {
	return youtubeID(sanitized)
}

func youtubeID(s string) string {
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	var id string
	switch host {
	case "youtube.com":
		if u.Path != "/watch" {
			return ""
		}
		id = u.Query().Get("v")
	case "youtu.be":
		id = strings.TrimPrefix(u.Path, "/")
	default:
		return ""
	}
	if !youtubeIDRe.MatchString(id) {
		return ""
	}
	return id
}

// pathExt extracts the lowercase file extension, ignoring the query string.
func pathExt(s string) string {
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	i := strings.LastIndexByte(s, '.')
	if i < 0 || i == len(s)-1 {
		return ""
	}
	ext := s[i+1:]
	if strings.ContainsRune(ext, '/') {
		return ""
	}
	return strings.ToLower(ext)
}

// DedupeForEmbeds keeps the first occurrence of each distinct embeddable URL.
// Inline link rendering still uses the full Extract result; only the embed
// list collapses duplicates.
func DedupeForEmbeds(all []Link) []Link {
	var out []Link
	seen := make(map[string]bool)
	for _, l := range all {
		switch l.Kind {
		case KindYouTube, KindImage, KindVideo:
		default:
			continue
		}
		if seen[l.Sanitized] {
			continue
		}
		seen[l.Sanitized] = true
		out = append(out, l)
	}
	return out
}
