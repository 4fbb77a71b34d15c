package model

// Attribute はプロバイダーから受け取った属性1件。
// Keyは "contact/internet/email" のようなAXタイプ名（http://axschema.org/ を除いた形）。
type Attribute struct {
	Key   string
	Value string
}

// Attributes はプロバイダー属性の集合。
// 受信した順序を保持する。同じフィールドに写像される属性が複数ある場合、
// この順序で後に適用されたものが優先される。
type Attributes []Attribute

// Get は指定キーの最初の値を返す。
func (a Attributes) Get(key string) (string, bool) {
	for _, attr := range a {
		if attr.Key == key {
			return attr.Value, true
		}
	}
	return "", false
}

// Len は属性数を返す。
func (a Attributes) Len() int {
	return len(a)
}
