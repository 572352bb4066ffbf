package stream

import "strings"

// markdownControl lists the characters Telegram MarkdownV2 requires escaping.
const markdownControl = "[]-_*()~>#+=|{}.!"

var (
	escaper   *strings.Replacer
	unescaper *strings.Replacer
)

func init() {
	esc := make([]string, 0, 2*len(markdownControl))
	unesc := make([]string, 0, 2*len(markdownControl))
	for _, c := range markdownControl {
		esc = append(esc, string(c), `\`+string(c))
		unesc = append(unesc, `\`+string(c), string(c))
	}
	escaper = strings.NewReplacer(esc...)
	unescaper = strings.NewReplacer(unesc...)
}

// EscapeMarkdown prefixes every MarkdownV2 control character in s with a
// backslash. Other characters, including backslash itself, pass through.
func EscapeMarkdown(s string) string {
	return escaper.Replace(s)
}

// UnescapeMarkdown reverses EscapeMarkdown.
func UnescapeMarkdown(s string) string {
	return unescaper.Replace(s)
}
