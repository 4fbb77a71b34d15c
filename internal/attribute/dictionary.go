// Package attribute はOpenID属性（AX/SREG）からローカルフィールドへの写像を提供する。
package attribute

import "github.com/prdatur/soopfw-openid/internal/model"

// Entry は辞書の1エントリ。外部属性キーとローカルフィールド名の組。
type Entry struct {
	Key   string
	Field string
}

// Dictionary は外部属性キーからローカルフィールド名への不変の写像。
// 生成後は変更されないため、複数のリクエストから同時に参照してよい。
type Dictionary struct {
	fields map[string]string
	keys   []string
}

// NewDictionary はエントリ列からDictionaryを生成する。
// 同じキーが複数回現れた場合は後のエントリが優先される。
func NewDictionary(entries ...Entry) Dictionary {
	d := Dictionary{fields: make(map[string]string, len(entries))}
	for _, e := range entries {
		if _, exists := d.fields[e.Key]; !exists {
			d.keys = append(d.keys, e.Key)
		}
		d.fields[e.Key] = e.Field
	}
	return d
}

// Lookup は外部属性キーに対応するローカルフィールド名を返す。
func (d Dictionary) Lookup(key string) (string, bool) {
	field, ok := d.fields[key]
	return field, ok
}

// Keys は辞書に登録された外部属性キーを登録順で返す。
func (d Dictionary) Keys() []string {
	keys := make([]string, len(d.keys))
	copy(keys, d.keys)
	return keys
}

// Len はエントリ数を返す。
func (d Dictionary) Len() int {
	return len(d.fields)
}

// 属性キー。
const (
	KeyEmail    = "contact/internet/email"
	KeyFriendly = "namePerson/friendly"
)

// DefaultDictionary は標準のAX属性とローカルのアカウント・住所フィールドの対応表を返す。
func DefaultDictionary() Dictionary {
	return NewDictionary(
		Entry{"namePerson", model.FieldFirstname},
		Entry{KeyFriendly, model.FieldUsername},
		Entry{"namePerson/prefix", model.FieldTitle},
		Entry{"namePerson/first", model.FieldFirstname},
		Entry{"namePerson/last", model.FieldLastname},
		Entry{"language/pref", model.FieldLanguage},
		Entry{KeyEmail, model.FieldEmail},
		Entry{"contact/email", model.FieldEmail},
		Entry{"contact/phone/default", model.FieldPhone},
		Entry{"contact/phone/cell", model.FieldMobile},
		Entry{"contact/phone/fax", model.FieldFax},
		Entry{"contact/postaladdress/home", model.FieldAddress},
		Entry{"contact/postaladdressadditional/home", model.FieldAddress2},
		Entry{"contact/city/home", model.FieldCity},
		Entry{"contact/country/home", model.FieldNation},
		Entry{"contact/postalcode/home", model.FieldZip},
	)
}

// RequiredKeys はリダイレクト時にプロバイダーへ必須として要求する属性。
func RequiredKeys() []string {
	return []string{KeyEmail}
}

// OptionalKeys はリダイレクト時に任意として要求する属性。
func OptionalKeys() []string {
	return []string{
		"namePerson",
		"contact/email",
		KeyFriendly,
		"namePerson/prefix",
		"namePerson/first",
		"namePerson/last",
		"language/pref",
		"contact/phone/default",
		"contact/phone/cell",
		"contact/phone/fax",
		"contact/postaladdress/home",
		"contact/postaladdressadditional/home",
		"contact/city/home",
		"contact/country/home",
		"contact/postalcode/home",
	}
}
