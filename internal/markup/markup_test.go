package markup

import (
	"strings"
	"testing"
)

func TestTokenize_Basic(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []Token
	}{
		{"Empty", "", nil},
		{"Plain", "hello world", []Token{{Kind: KindText, Content: "hello world"}}},
		{"Bold", "*hi*", []Token{{Kind: KindBold, Content: "hi"}}},
		{"Italic", "**hi**", []Token{{Kind: KindItalic, Content: "hi"}}},
		{"BoldItalic", "***hi***", []Token{{Kind: KindBoldItalic, Content: "hi"}}},
		{"Strikethrough", "~~gone~~", []Token{{Kind: KindStrikethrough, Content: "gone"}}},
		{"Spoiler", "||secret||", []Token{{Kind: KindSpoiler, Content: "secret"}}},
		{"InlineCode", "`x := 1`", []Token{{Kind: KindCode, Content: "x := 1"}}},
		{
			"Mixed",
			"say *hi* to `code`",
			[]Token{
				{Kind: KindText, Content: "say "},
				{Kind: KindBold, Content: "hi"},
				{Kind: KindText, Content: " to "},
				{Kind: KindCode, Content: "code"},
			},
		},
		{
			"UnicodeContent",
			"*привет* 🤖",
			[]Token{
				{Kind: KindBold, Content: "привет"},
				{Kind: KindText, Content: " 🤖"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertTokens(t, Tokenize(tt.input), tt.expected)
		})
	}
}

func TestTokenize_MarkerPrecedence(t *testing.T) {
	// A triple-star run is one bold-italic token, never bold around italic.
	got := Tokenize("***x***")
	if len(got) != 1 || got[0].Kind != KindBoldItalic || got[0].Content != "x" {
		t.Fatalf("got %+v, want single bold_italic 'x'", got)
	}

	// A double star must never be half-matched as two bold markers.
	got = Tokenize("**x**")
	if len(got) != 1 || got[0].Kind != KindItalic || got[0].Content != "x" {
		t.Fatalf("got %+v, want single italic 'x'", got)
	}
}

func TestTokenize_Unterminated(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"Bold", "*unterminated"},
		{"Italic", "**unterminated"},
		{"BoldItalic", "***unterminated"},
		{"ItalicWithLoneStarInside", "**half*"},
		{"Spoiler", "||unterminated"},
		{"Strikethrough", "~~unterminated"},
		{"InlineCode", "`unterminated"},
		{"CodeBlock", "```unterminated"},
		{"BareTripleBacktick", "```"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.input)
			if len(got) != 1 || got[0].Kind != KindText || got[0].Content != tt.input {
				t.Errorf("got %+v, want single literal text %q", got, tt.input)
			}
		})
	}
}

// A star run of marker length is one marker: when it never closes, none of
// its stars may be reused as a shorter marker's closer.
func TestTokenize_NoHalfMatchedMarkers(t *testing.T) {
	got := Tokenize("**unterminated")
	if len(got) != 1 || got[0].Kind != KindText || got[0].Content != "**unterminated" {
		t.Fatalf("got %+v, want single literal text token", got)
	}
	for _, tok := range got {
		if tok.Kind == KindBold {
			t.Fatalf("double-star run half-matched as bold: %+v", got)
		}
	}
}

func TestTokenize_UnterminatedAfterText(t *testing.T) {
	got := Tokenize("hello *world")
	if len(got) != 1 || got[0].Kind != KindText || got[0].Content != "hello *world" {
		t.Fatalf("got %+v, want single literal token", got)
	}
}

func TestTokenize_AdjacentMarkersEmptyContent(t *testing.T) {
	tests := []struct {
		input string
		kind  Kind
	}{
		{"****", KindItalic},
		{"******", KindBoldItalic},
		{"||||", KindSpoiler},
		{"~~~~", KindStrikethrough},
		{"``", KindCode},
	}

	for _, tt := range tests {
		got := Tokenize(tt.input)
		if len(got) != 1 || got[0].Kind != tt.kind || got[0].Content != "" {
			t.Errorf("Tokenize(%q) = %+v, want empty %s token", tt.input, got, tt.kind)
		}
	}
}

func TestTokenize_CodeBlock(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		content  string
		language string
	}{
		{"Inline", "```x := 1```", "x := 1", ""},
		{"WithLanguage", "```go\nfmt.Println()\n```", "fmt.Println()\n", "go"},
		{"FirstLineWithSpace", "```not lang\ncode```", "not lang\ncode", ""},
		// Only a space disqualifies the language line; other whitespace
		// stays part of it.
		{"FirstLineWithTab", "```a\tb\ncode```", "code", "a\tb"},
		{"EmptyFirstLine", "```\ncode```", "\ncode", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.input)
			if len(got) != 1 || got[0].Kind != KindCodeBlock {
				t.Fatalf("got %+v, want single code_block", got)
			}
			if got[0].Content != tt.content || got[0].Language != tt.language {
				t.Errorf("got content=%q lang=%q, want content=%q lang=%q",
					got[0].Content, got[0].Language, tt.content, tt.language)
			}
		})
	}
}

func TestTokenize_CodeBlockSwallowsMarkers(t *testing.T) {
	got := Tokenize("```*not bold*```")
	if len(got) != 1 || got[0].Kind != KindCodeBlock || got[0].Content != "*not bold*" {
		t.Fatalf("got %+v, markers inside a code block must stay literal", got)
	}
}

func TestTokenize_Quote(t *testing.T) {
	got := Tokenize("> quoted line\nafter")
	want := []Token{
		{Kind: KindQuote, Content: "quoted line"},
		{Kind: KindText, Content: "\nafter"},
	}
	assertTokens(t, got, want)

	// '>' mid-line is plain text.
	got = Tokenize("a > b")
	assertTokens(t, got, []Token{{Kind: KindText, Content: "a > b"}})

	// Quote after a newline, then a second quote.
	got = Tokenize("hi\n>one\n>two")
	want = []Token{
		{Kind: KindText, Content: "hi\n"},
		{Kind: KindQuote, Content: "one"},
		{Kind: KindText, Content: "\n"},
		{Kind: KindQuote, Content: "two"},
	}
	assertTokens(t, got, want)
}

// Rebuilding the input from tokens and their markers must reproduce the
// original text (quotes excepted, as their content is trimmed).
func TestTokenize_Reconstruction(t *testing.T) {
	inputs := []string{
		"",
		"plain text only",
		"*b* **i** ***bi*** ~~s~~ ||sp|| `c`",
		"```go\ncode here\n```",
		"*unterminated tail",
		"**unterminated tail",
		"text then ||unterminated",
		"``` lone block opener",
		"nested `code *stays* raw` end",
		"****",
	}

	for _, in := range inputs {
		if got := reconstruct(Tokenize(in)); got != in {
			t.Errorf("reconstruct(Tokenize(%q)) = %q", in, got)
		}
	}
}

func reconstruct(tokens []Token) string {
	var b strings.Builder
	for _, tok := range tokens {
		switch tok.Kind {
		case KindText:
			b.WriteString(tok.Content)
		case KindBold:
			b.WriteString("*" + tok.Content + "*")
		case KindItalic:
			b.WriteString("**" + tok.Content + "**")
		case KindBoldItalic:
			b.WriteString("***" + tok.Content + "***")
		case KindStrikethrough:
			b.WriteString("~~" + tok.Content + "~~")
		case KindSpoiler:
			b.WriteString("||" + tok.Content + "||")
		case KindCode:
			b.WriteString("`" + tok.Content + "`")
		case KindCodeBlock:
			b.WriteString("```")
			if tok.Language != "" {
				b.WriteString(tok.Language + "\n")
			}
			b.WriteString(tok.Content + "```")
		case KindQuote:
			b.WriteString(">" + tok.Content)
		}
	}
	return b.String()
}

func assertTokens(t *testing.T, got, want []Token) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d tokens %+v, want %d %+v", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}
