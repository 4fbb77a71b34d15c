package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxProfileValueLength はプロフィール値として保存する最大文字数。
const MaxProfileValueLength = 255

// ProfileSanitizerService はプロバイダーから受け取った属性値を
// プレーンテキストとして保存可能な形に整える。
type ProfileSanitizerService interface {
	// Sanitize はHTMLタグ(実体参照で表現されたものを含む)を除去し、前後の空白を取り除いた値を返す。
	// MaxProfileValueLength文字を超える部分は切り捨てる。
	Sanitize(value string) string
}

// profileSanitizer はbluemondayのStrictPolicyで全タグを除去する実装。
type profileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerServiceの新しいインスタンスを生成する。
func NewProfileSanitizer() *profileSanitizer {
	return &profileSanitizer{policy: bluemonday.StrictPolicy()}
}

// maxUnescapePasses は多重エスケープされた値を展開する回数の上限。
const maxUnescapePasses = 4

// Sanitize は属性値をプレーンテキストに変換する。
// 実体参照で渡されたタグも除去するため、展開とタグ除去を値が変化しなくなるまで繰り返す。
// 上限回数で収束しない値や、処理後も"<"を含む値は空文字列として扱う。
func (s *profileSanitizer) Sanitize(value string) string {
	if value == "" {
		return ""
	}

	cleaned := value
	converged := false
	for range maxUnescapePasses {
		next := html.UnescapeString(s.policy.Sanitize(html.UnescapeString(cleaned)))
		if next == cleaned {
			converged = true
			break
		}
		cleaned = next
	}
	if !converged || strings.Contains(cleaned, "<") {
		return ""
	}

	cleaned = strings.TrimSpace(cleaned)
	if utf8.RuneCountInString(cleaned) > MaxProfileValueLength {
		cleaned = string([]rune(cleaned)[:MaxProfileValueLength])
	}
	return cleaned
}
