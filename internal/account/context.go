package account

import "context"

type languageKey struct{}

// WithLanguage はリクエストの表示言語をcontextに格納する。
// 新規アカウントの既定言語として使用される。
func WithLanguage(ctx context.Context, lang string) context.Context {
	return context.WithValue(ctx, languageKey{}, lang)
}

// LanguageFromContext はcontextに格納された表示言語を返す。
func LanguageFromContext(ctx context.Context) (string, bool) {
	lang, ok := ctx.Value(languageKey{}).(string)
	return lang, ok && lang != ""
}
