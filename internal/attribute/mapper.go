package attribute

import "github.com/prdatur/soopfw-openid/internal/model"

// Mapper は属性集合をローカルフィールドの値セットに変換する。
type Mapper struct {
	dict Dictionary
}

// NewMapper はMapperを生成する。
func NewMapper(dict Dictionary) *Mapper {
	return &Mapper{dict: dict}
}

// Map は属性を受信順に辞書で引き、ローカルフィールド名をキーとする値セットを返す。
// 辞書にないキーは捨てる。値の内容は検証しない。
func (m *Mapper) Map(attrs model.Attributes) map[string]string {
	result := make(map[string]string, len(attrs))
	for _, attr := range attrs {
		field, ok := m.dict.Lookup(attr.Key)
		if !ok {
			continue
		}
		result[field] = attr.Value
	}
	return result
}
