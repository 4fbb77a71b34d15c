package security

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestProfileSanitizer_Sanitize(t *testing.T) {
	sanitizer := NewProfileSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "空文字列", input: "", want: ""},
		{name: "プレーンテキストはそのまま", input: "Alice", want: "Alice"},
		{name: "メールアドレスはそのまま", input: "a@x.com", want: "a@x.com"},
		{name: "scriptタグは内容ごと除去", input: `Bob<script>alert(1)</script>`, want: "Bob"},
		{name: "タグは除去しテキストを残す", input: "<b>Carol</b>", want: "Carol"},
		{name: "アポストロフィはエスケープしない", input: "O'Brien", want: "O'Brien"},
		{name: "アンパサンドはエスケープしない", input: "Smith & Sons", want: "Smith & Sons"},
		{name: "前後の空白を除去", input: "  Tokyo \n", want: "Tokyo"},
		{name: "マルチバイト文字", input: "東京都千代田区", want: "東京都千代田区"},
		{name: "実体参照のscriptタグも除去", input: "&lt;script&gt;alert(1)&lt;/script&gt;", want: ""},
		{name: "実体参照のタグは除去しテキストを残す", input: "&lt;b&gt;Dave&lt;/b&gt;", want: "Dave"},
		{name: "二重エスケープされたタグも除去", input: "&amp;lt;i&amp;gt;Eve&amp;lt;/i&amp;gt;", want: "Eve"},
		{name: "数値文字参照のタグも除去", input: "&#60;img src=x onerror=alert(1)&#62;Frank", want: "Frank"},
		{name: "タグにならない山括弧は値ごと破棄", input: "a < b", want: ""},
		{name: "実体参照のアンパサンドは展開", input: "Smith &amp; Sons", want: "Smith & Sons"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestProfileSanitizer_TruncatesLongValues(t *testing.T) {
	sanitizer := NewProfileSanitizer()

	got := sanitizer.Sanitize(strings.Repeat("あ", MaxProfileValueLength+10))
	if n := utf8.RuneCountInString(got); n != MaxProfileValueLength {
		t.Errorf("rune count = %d, want %d", n, MaxProfileValueLength)
	}
}

func TestProfileSanitizer_Idempotent(t *testing.T) {
	sanitizer := NewProfileSanitizer()

	inputs := []string{"<i>x</i> & y", "plain", "O'Brien <br> Jr."}
	for _, in := range inputs {
		once := sanitizer.Sanitize(in)
		if twice := sanitizer.Sanitize(once); twice != once {
			t.Errorf("Sanitize not idempotent for %q: %q -> %q", in, once, twice)
		}
	}
}

func TestProfileSanitizerInterface(t *testing.T) {
	var _ ProfileSanitizerService = NewProfileSanitizer()
}

func TestProfileSanitizer_NeverReturnsMarkup(t *testing.T) {
	sanitizer := NewProfileSanitizer()

	inputs := []string{
		"&lt;script&gt;alert(1)&lt;/script&gt;",
		"&amp;amp;lt;b&amp;amp;gt;x",
		"&amp;amp;amp;amp;amp;lt;b&amp;amp;amp;amp;amp;gt;x",
		"<scr<script>ipt>alert(1)</script>",
		"&#x3C;svg onload=alert(1)&#x3E;",
	}
	for _, in := range inputs {
		if got := sanitizer.Sanitize(in); strings.Contains(got, "<") {
			t.Errorf("Sanitize(%q) = %q, want no tag opener", in, got)
		}
	}
}
