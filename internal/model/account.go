// Package model はドメインモデルを定義する。
package model

import "time"

// AccountType はアカウントを作成したログインハンドラーの種別を表す。
type AccountType string

const (
	// AccountTypeOpenID はOpenIDログインで作成されたアカウント。
	AccountTypeOpenID AccountType = "openid"
	// AccountTypeLocal はパスワードログインのアカウント。
	AccountTypeLocal AccountType = "local"
)

// AddressGroupDefault はアカウントに1:1で紐づく既定住所のグループ。
const AddressGroupDefault = "default"

// ローカルフィールド名。属性辞書のマッピング先として使用する。
const (
	FieldUsername    = "username"
	FieldLanguage    = "language"
	FieldRegistered  = "registered"
	FieldLastLogin   = "last_login"
	FieldAccountType = "account_type"
	FieldParentID    = "parent_id"

	FieldTitle     = "title"
	FieldFirstname = "firstname"
	FieldLastname  = "lastname"
	FieldEmail     = "email"
	FieldPhone     = "phone"
	FieldMobile    = "mobile"
	FieldFax       = "fax"
	FieldAddress   = "address"
	FieldAddress2  = "address2"
	FieldCity      = "city"
	FieldNation    = "nation"
	FieldZip       = "zip"
)

// Account は認証主体となるローカルアカウントを表す。
type Account struct {
	ID       string
	Username string
	// IdentitySlot はOpenIDアカウントではclaimed identifierを保持する。
	// それ以外の種別では不透明な認証情報として扱う。
	IdentitySlot string
	AccountType  AccountType
	Language     string
	Registered   time.Time
	LastLogin    time.Time
	ParentID     int64
}

// ApplyFields はアカウントが持つフィールドだけを値セットから反映する。
// 認識しないフィールドは無視する。
func (a *Account) ApplyFields(values map[string]string) {
	for field, v := range values {
		switch field {
		case FieldUsername:
			a.Username = v
		case FieldLanguage:
			a.Language = v
		}
	}
}

// Address はアカウントの既定住所（プロフィール）を表す。
// 所有者のアカウントと独立したライフサイクルは持たない。
type Address struct {
	ID        string
	AccountID string
	Group     string
	Title     string
	Firstname string
	Lastname  string
	Email     string
	Phone     string
	Mobile    string
	Fax       string
	Address   string
	Address2  string
	City      string
	Nation    string
	Zip       string
}

// ApplyFields は住所が持つフィールドだけを値セットから反映する。
// 認識しないフィールドは無視する。
func (a *Address) ApplyFields(values map[string]string) {
	for field, v := range values {
		switch field {
		case FieldTitle:
			a.Title = v
		case FieldFirstname:
			a.Firstname = v
		case FieldLastname:
			a.Lastname = v
		case FieldEmail:
			a.Email = v
		case FieldPhone:
			a.Phone = v
		case FieldMobile:
			a.Mobile = v
		case FieldFax:
			a.Fax = v
		case FieldAddress:
			a.Address = v
		case FieldAddress2:
			a.Address2 = v
		case FieldCity:
			a.City = v
		case FieldNation:
			a.Nation = v
		case FieldZip:
			a.Zip = v
		}
	}
}

// Session はアカウントのログインセッションを表す。
type Session struct {
	ID        string
	AccountID string
	ExpiresAt time.Time
	CreatedAt time.Time
}
