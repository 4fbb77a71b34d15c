package openid

import (
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/prdatur/soopfw-openid/internal/model"
)

// 拡張の名前空間。
const (
	nsAX        = "http://openid.net/srv/ax/1.0"
	nsSReg11    = "http://openid.net/extensions/sreg/1.1"
	nsSReg10    = "http://openid.net/sreg/1.0"
	axSchema    = "http://axschema.org/"
	axAlias     = "ax"
	sregAlias   = "sreg"
	modeIDRes   = "id_res"
	paramMode   = "openid.mode"
	paramSigned = "openid.signed"
)

// sregToAX はSimple Registrationのフィールド名とAXキーの対応。
// AX非対応のプロバイダー向けに使用する。dob, gender, timezoneは対応するフィールドがないため扱わない。
var sregToAX = []struct {
	field string
	key   string
}{
	{"nickname", "namePerson/friendly"},
	{"email", "contact/internet/email"},
	{"fullname", "namePerson"},
	{"country", "contact/country/home"},
	{"postcode", "contact/postalcode/home"},
	{"language", "language/pref"},
}

// axAliasFor はAXキーからリクエスト用のエイリアスを作る。
// エイリアスには "." と "," を含められないため "/" を "_" に置き換える。
func axAliasFor(key string) string {
	return strings.ReplaceAll(key, "/", "_")
}

// appendExtensionParams はリダイレクトURLにAXのfetch_requestとSREGの要求を付加する。
func appendExtensionParams(redirectURL string, required, optional []string) (string, error) {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return "", err
	}
	q := u.Query()

	q.Set("openid.ns."+axAlias, nsAX)
	q.Set("openid."+axAlias+".mode", "fetch_request")
	aliases := func(keys []string) string {
		names := make([]string, 0, len(keys))
		for _, key := range keys {
			alias := axAliasFor(key)
			q.Set("openid."+axAlias+".type."+alias, axSchema+key)
			names = append(names, alias)
		}
		return strings.Join(names, ",")
	}
	if len(required) > 0 {
		q.Set("openid."+axAlias+".required", aliases(required))
	}
	if len(optional) > 0 {
		q.Set("openid."+axAlias+".if_available", aliases(optional))
	}

	sregRequired, sregOptional := sregFieldsFor(required), sregFieldsFor(optional)
	if len(sregRequired)+len(sregOptional) > 0 {
		q.Set("openid.ns."+sregAlias, nsSReg11)
		if len(sregRequired) > 0 {
			q.Set("openid."+sregAlias+".required", strings.Join(sregRequired, ","))
		}
		if len(sregOptional) > 0 {
			q.Set("openid."+sregAlias+".optional", strings.Join(sregOptional, ","))
		}
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// sregFieldsFor はAXキーのうちSREGで要求できるもののフィールド名を返す。
func sregFieldsFor(keys []string) []string {
	var fields []string
	for _, key := range keys {
		for _, m := range sregToAX {
			if m.key == key {
				fields = append(fields, m.field)
			}
		}
	}
	return fields
}

// openidParams はリクエストから "openid." で始まるパラメータだけを取り出す。
func openidParams(r *http.Request) url.Values {
	if err := r.ParseForm(); err != nil {
		return url.Values{}
	}
	params := url.Values{}
	for k, vs := range r.Form {
		if strings.HasPrefix(k, "openid.") {
			params[k] = vs
		}
	}
	return params
}

// namespaceAlias はnamespacesのいずれかを宣言しているエイリアスを返す。
// 宣言が複数ある場合は "ns.<alias>" が署名対象に含まれる1つだけを採用し、
// 1つに絞れなければ拡張を無視して空文字列を返す。
func namespaceAlias(params url.Values, signed map[string]bool, namespaces ...string) string {
	var declared []string
	for k, vs := range params {
		alias, ok := strings.CutPrefix(k, "openid.ns.")
		if !ok || len(vs) == 0 || !slices.Contains(namespaces, vs[0]) {
			continue
		}
		declared = append(declared, alias)
	}
	if len(declared) == 1 {
		return declared[0]
	}

	var signedAliases []string
	for _, alias := range declared {
		if signed["ns."+alias] {
			signedAliases = append(signedAliases, alias)
		}
	}
	if len(signedAliases) != 1 {
		return ""
	}
	return signedAliases[0]
}

// parseAttributes は署名対象に含まれる属性だけをAX/SREGから取り出す。
// 順序はopenid.signedに現れた順で、AXに同じキーがある場合SREGの値は使わない。
func parseAttributes(params url.Values) model.Attributes {
	if params.Get(paramMode) != modeIDRes {
		return nil
	}

	signedList := strings.Split(params.Get(paramSigned), ",")
	signed := make(map[string]bool, len(signedList))
	for _, name := range signedList {
		signed[name] = true
	}

	axNS := namespaceAlias(params, signed, nsAX)
	sregNS := namespaceAlias(params, signed, nsSReg11, nsSReg10)

	var attrs model.Attributes
	seen := make(map[string]bool)

	if axNS != "" {
		valuePrefix := axNS + ".value."
		for _, name := range signedList {
			rest, ok := strings.CutPrefix(name, valuePrefix)
			if !ok {
				continue
			}
			// 複数値の場合は "value.<alias>.1" の形式になる。最初の値のみ採用する
			alias, index, multi := strings.Cut(rest, ".")
			if multi && index != "1" {
				continue
			}
			typeField := axNS + ".type." + alias
			if !signed[typeField] {
				continue
			}
			key := strings.TrimPrefix(params.Get("openid."+typeField), axSchema)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			attrs = append(attrs, model.Attribute{Key: key, Value: params.Get("openid." + name)})
		}
	}

	if sregNS != "" {
		for _, name := range signedList {
			field, ok := strings.CutPrefix(name, sregNS+".")
			if !ok {
				continue
			}
			for _, m := range sregToAX {
				if m.field != field || seen[m.key] {
					continue
				}
				seen[m.key] = true
				attrs = append(attrs, model.Attribute{Key: m.key, Value: params.Get("openid." + name)})
			}
		}
	}

	return attrs
}
