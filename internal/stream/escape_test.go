package stream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeMarkdown_EveryControlCharacter(t *testing.T) {
	for _, c := range markdownControl {
		got := EscapeMarkdown(string(c))
		assert.Equal(t, `\`+string(c), got, "control %q", c)
	}
}

func TestEscapeMarkdown_Examples(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Hello, world!", `Hello, world\!`},
		{"", ""},
		{"plain text", "plain text"},
		{"a_b*c", `a\_b\*c`},
		{"[link](http://x.y)", `\[link\]\(http://x\.y\)`},
		{"1+1=2 | {ok} #tag > ~", `1\+1\=2 \| \{ok\} \#tag \> \~`},
		{`back\slash`, `back\slash`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EscapeMarkdown(tt.in), "input %q", tt.in)
	}
}

func TestEscapeMarkdown_RoundTrip(t *testing.T) {
	inputs := []string{
		markdownControl,
		strings.Repeat(markdownControl, 3),
		`\` + markdownControl,
		`a\.b`,
		`\\!!`,
		"mixed *bold* and _italic_ with `code` and ünïcödé.",
		"Hello, world!",
	}
	for _, in := range inputs {
		assert.Equal(t, in, UnescapeMarkdown(EscapeMarkdown(in)), "round trip %q", in)
	}
}

func TestEscapeMarkdown_NoUnescapedControlLeft(t *testing.T) {
	out := EscapeMarkdown("a.b-c(d)e!")
	for i, r := range out {
		if strings.ContainsRune(markdownControl, r) {
			assert.True(t, i > 0 && out[i-1] == '\\', "unescaped %q at %d in %q", r, i, out)
		}
	}
}
