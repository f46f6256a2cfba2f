// Package markup turns raw message text into a flat stream of format tokens.
// The grammar is the chat's own lightweight markup, not Markdown: a single
// star is bold, a double star italic, a triple star bold-italic, plus
// ||spoiler||, ~~strikethrough~~, `code`, ```blocks``` and > quote lines.
//
// Tokenize is total: any input, including unterminated markers, yields a
// well-formed token list. An opening marker with no matching closer is kept
// as literal text so no input is ever lost.
package markup

import "strings"

type Kind string

const (
	KindText          Kind = "text"
	KindBold          Kind = "bold"
	KindItalic        Kind = "italic"
	KindBoldItalic    Kind = "bold_italic"
	KindCode          Kind = "code"
	KindCodeBlock     Kind = "code_block"
	KindStrikethrough Kind = "strikethrough"
	KindSpoiler       Kind = "spoiler"
	KindQuote         Kind = "quote"
)

// Token is one span of the input. Content carries the text between the
// markers; Language is set only for code blocks with an info line.
type Token struct {
	Kind     Kind
	Content  string
	Language string
}

// starKinds maps a star-run length to its meaning, longest marker first.
var starKinds = []struct {
	marker string
	kind   Kind
}{
	{"***", KindBoldItalic},
	{"**", KindItalic},
	{"*", KindBold},
}

// Tokenize scans left to right with no backtracking over emitted tokens.
func Tokenize(s string) []Token {
	var tokens []Token
	var plain strings.Builder

	flush := func() {
		if plain.Len() > 0 {
			tokens = append(tokens, Token{Kind: KindText, Content: plain.String()})
			plain.Reset()
		}
	}

	i := 0
	for i < len(s) {
		// Code block has the highest priority.
		if strings.HasPrefix(s[i:], "```") {
			rest := s[i+3:]
			end := strings.Index(rest, "```")
			if end < 0 {
				plain.WriteString(s[i:])
				i = len(s)
				break
			}
			flush()
			tokens = append(tokens, codeBlockToken(rest[:end]))
			i += 3 + end + 3
			continue
		}

		if s[i] == '`' {
			rest := s[i+1:]
			end := strings.IndexByte(rest, '`')
			if end < 0 {
				plain.WriteString(s[i:])
				i = len(s)
				break
			}
			flush()
			tokens = append(tokens, Token{Kind: KindCode, Content: rest[:end]})
			i += 1 + end + 1
			continue
		}

		if tok, n, ok := matchPaired(s[i:], "||", KindSpoiler); ok {
			flush()
			tokens = append(tokens, tok)
			i += n
			continue
		} else if strings.HasPrefix(s[i:], "||") {
			plain.WriteString(s[i:])
			i = len(s)
			break
		}

		if tok, n, ok := matchPaired(s[i:], "~~", KindStrikethrough); ok {
			flush()
			tokens = append(tokens, tok)
			i += n
			continue
		} else if strings.HasPrefix(s[i:], "~~") {
			plain.WriteString(s[i:])
			i = len(s)
			break
		}

		if s[i] == '*' {
			// The run's own length picks the marker: one star is a bold
			// marker, two an italic marker, three a bold-italic marker. A
			// two-star marker is never half-matched as two bold markers,
			// so a run of marker length that does not close goes literal.
			// Only a run longer than the longest marker splits into
			// shorter markers, which lets adjacent markers close with
			// empty content.
			run := 1
			for i+run < len(s) && s[i+run] == '*' {
				run++
			}
			candidates := starKinds
			if run <= 3 {
				candidates = starKinds[3-run : 4-run]
			}
			matched := false
			for _, sk := range candidates {
				if tok, n, ok := matchPaired(s[i:], sk.marker, sk.kind); ok {
					flush()
					tokens = append(tokens, tok)
					i += n
					matched = true
					break
				}
			}
			if matched {
				continue
			}
			plain.WriteString(s[i:])
			i = len(s)
			break
		}

		// A '>' opening a line starts a quote running to the newline.
		if s[i] == '>' && (i == 0 || s[i-1] == '\n') {
			flush()
			line := s[i+1:]
			if end := strings.IndexByte(line, '\n'); end >= 0 {
				line = line[:end]
			}
			tokens = append(tokens, Token{Kind: KindQuote, Content: strings.TrimSpace(line)})
			i += 1 + len(line)
			continue
		}

		plain.WriteByte(s[i])
		i++
	}

	flush()
	return tokens
}

// matchPaired matches marker...marker at the start of s. It reports the
// token, the number of input bytes consumed, and whether a closing marker
// was found. Adjacent markers close with empty content.
func matchPaired(s, marker string, kind Kind) (Token, int, bool) {
	if !strings.HasPrefix(s, marker) {
		return Token{}, 0, false
	}
	rest := s[len(marker):]
	end := strings.Index(rest, marker)
	if end < 0 {
		return Token{}, 0, false
	}
	return Token{Kind: kind, Content: rest[:end]}, len(marker) + end + len(marker), true
}

// codeBlockToken splits an optional language line off the block body. The
// first line counts as the language only when the block spans multiple lines
// and the line contains no spaces.
func codeBlockToken(body string) Token {
	nl := strings.IndexByte(body, '\n')
	if nl < 0 {
		return Token{Kind: KindCodeBlock, Content: body}
	}
	first := body[:nl]
	if first == "" || strings.ContainsRune(first, ' ') {
		return Token{Kind: KindCodeBlock, Content: body}
	}
	return Token{Kind: KindCodeBlock, Content: body[nl+1:], Language: first}
}
