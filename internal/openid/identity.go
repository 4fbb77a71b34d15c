package openid

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// ErrInvalidIdentity はユーザーが入力したidentity URLが使用できないことを表す。
var ErrInvalidIdentity = errors.New("invalid openid identity")

// xriGlobalContextSymbols はXRI識別子の先頭文字。XRIには対応しない。
const xriGlobalContextSymbols = "=@+$!("

// NormalizeIdentity はユーザー入力のidentityをOpenID 2.0の正規化規則に沿ったURLにする。
// スキームがなければhttp://を補い、ホスト名はIDNAでASCII表記に変換し、フラグメントは除去する。
func NormalizeIdentity(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	id = strings.TrimPrefix(id, "xri://")
	if id == "" {
		return "", fmt.Errorf("%w: empty identity", ErrInvalidIdentity)
	}
	if strings.ContainsAny(id[:1], xriGlobalContextSymbols) {
		return "", fmt.Errorf("%w: XRI identifiers are not supported", ErrInvalidIdentity)
	}

	if !strings.HasPrefix(strings.ToLower(id), "http://") && !strings.HasPrefix(strings.ToLower(id), "https://") {
		if strings.Contains(id, "://") {
			return "", fmt.Errorf("%w: unsupported scheme", ErrInvalidIdentity)
		}
		id = "http://" + id
	}

	u, err := url.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidIdentity, err)
	}
	if u.User != nil {
		return "", fmt.Errorf("%w: credentials in identity URL", ErrInvalidIdentity)
	}

	host, err := idna.Lookup.ToASCII(u.Hostname())
	if err != nil || host == "" {
		return "", fmt.Errorf("%w: invalid host %q", ErrInvalidIdentity, u.Hostname())
	}
	if port := u.Port(); port != "" {
		host = host + ":" + port
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}
