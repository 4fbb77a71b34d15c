package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/prdatur/soopfw-openid/internal/model"
)

// MongoDBのコレクション名。
const (
	AccountsCollection = "accounts"
	SessionsCollection = "sessions"
)

// accountDocument はaccountsコレクションのドキュメント。
// 既定住所はアカウントに1:1で従属するため埋め込みで保持し、
// アカウントと住所の書き込みを単一ドキュメントで原子的に行う。
type accountDocument struct {
	ID           string           `bson:"_id"`
	Username     string           `bson:"username"`
	IdentitySlot string           `bson:"identity_slot"`
	AccountType  string           `bson:"account_type"`
	Language     string           `bson:"language"`
	Registered   time.Time        `bson:"registered"`
	LastLogin    *time.Time       `bson:"last_login,omitempty"`
	ParentID     int64            `bson:"parent_id"`
	Address      *addressDocument `bson:"address,omitempty"`
}

type addressDocument struct {
	ID        string `bson:"id"`
	Group     string `bson:"group"`
	Title     string `bson:"title"`
	Firstname string `bson:"firstname"`
	Lastname  string `bson:"lastname"`
	Email     string `bson:"email"`
	Phone     string `bson:"phone"`
	Mobile    string `bson:"mobile"`
	Fax       string `bson:"fax"`
	Address   string `bson:"address"`
	Address2  string `bson:"address2"`
	City      string `bson:"city"`
	Nation    string `bson:"nation"`
	Zip       string `bson:"zip"`
}

// MongoAccountRepo はMongoDBを使用したアカウントリポジトリ。
type MongoAccountRepo struct {
	accounts *mongo.Collection
}

// NewMongoAccountRepo はMongoAccountRepoを生成し、必要なインデックスを作成する。
func NewMongoAccountRepo(ctx context.Context, db *mongo.Database) (*MongoAccountRepo, error) {
	repo := &MongoAccountRepo{accounts: db.Collection(AccountsCollection)}

	// 空のユーザー名・識別子はプレースホルダーのため一意性の対象外とする
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "username", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"username": bson.M{"$gt": ""}}),
		},
		{
			Keys: bson.D{{Key: "identity_slot", Value: 1}, {Key: "account_type", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"identity_slot": bson.M{"$gt": ""}}),
		},
	}
	if _, err := repo.accounts.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, fmt.Errorf("failed to create account indexes: %w", err)
	}

	return repo, nil
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *MongoAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	doc, err := r.findOne(ctx, bson.M{"_id": id}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by ID: %w", err)
	}
	return doc.toAccount(), nil
}

// FindByIdentity はidentity slotでアカウントを検索する。
// accountTypeが空の場合は種別を問わず最初に登録されたアカウントを返す。
func (r *MongoAccountRepo) FindByIdentity(ctx context.Context, identity string, accountType model.AccountType) (*model.Account, error) {
	filter := bson.M{"identity_slot": identity}
	if accountType != "" {
		filter["account_type"] = string(accountType)
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "registered", Value: 1}})
	doc, err := r.findOne(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find account by identity: %w", err)
	}
	return doc.toAccount(), nil
}

// UsernameExists は全種別のアカウントを対象にユーザー名の使用有無を返す。
func (r *MongoAccountRepo) UsernameExists(ctx context.Context, username string) (bool, error) {
	n, err := r.accounts.CountDocuments(ctx, bson.M{"username": username}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check username: %w", err)
	}
	return n > 0, nil
}

// FindDefaultAddress はアカウントの既定住所を取得する。未作成の場合はnilを返す。
func (r *MongoAccountRepo) FindDefaultAddress(ctx context.Context, accountID string) (*model.Address, error) {
	doc, err := r.findOne(ctx, bson.M{"_id": accountID}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to find default address: %w", err)
	}
	if doc == nil || doc.Address == nil {
		return nil, nil
	}
	return doc.Address.toAddress(doc.ID), nil
}

// CreateWithAddress はアカウントと既定住所を1ドキュメントとして作成する。
func (r *MongoAccountRepo) CreateWithAddress(ctx context.Context, account *model.Account, address *model.Address) error {
	if _, err := r.accounts.InsertOne(ctx, newAccountDocument(account, address)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("failed to insert account: %w", ErrDuplicate)
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// UpdateWithAddress はアカウントと既定住所をまとめて置き換える。
func (r *MongoAccountRepo) UpdateWithAddress(ctx context.Context, account *model.Account, address *model.Address) error {
	if address.ID == "" {
		return fmt.Errorf("address ID must be assigned before update")
	}
	result, err := r.accounts.ReplaceOne(ctx, bson.M{"_id": account.ID}, newAccountDocument(account, address))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("failed to update account: %w", ErrDuplicate)
		}
		return fmt.Errorf("failed to update account: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("account not found: %s", account.ID)
	}
	return nil
}

// TouchLastLogin は最終ログイン日時のみを更新する。
func (r *MongoAccountRepo) TouchLastLogin(ctx context.Context, accountID string, at time.Time) error {
	_, err := r.accounts.UpdateOne(ctx,
		bson.M{"_id": accountID},
		bson.M{"$set": bson.M{"last_login": at}},
	)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// findOne は1件を取得する。見つからない場合はnil, nilを返す。
func (r *MongoAccountRepo) findOne(ctx context.Context, filter bson.M, opts *options.FindOneOptions) (*accountDocument, error) {
	var doc accountDocument
	var res *mongo.SingleResult
	if opts != nil {
		res = r.accounts.FindOne(ctx, filter, opts)
	} else {
		res = r.accounts.FindOne(ctx, filter)
	}
	if err := res.Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &doc, nil
}

func newAccountDocument(a *model.Account, addr *model.Address) *accountDocument {
	doc := &accountDocument{
		ID:           a.ID,
		Username:     a.Username,
		IdentitySlot: a.IdentitySlot,
		AccountType:  string(a.AccountType),
		Language:     a.Language,
		Registered:   a.Registered,
		ParentID:     a.ParentID,
	}
	if !a.LastLogin.IsZero() {
		lastLogin := a.LastLogin
		doc.LastLogin = &lastLogin
	}
	if addr != nil {
		group := addr.Group
		if group == "" {
			group = model.AddressGroupDefault
		}
		doc.Address = &addressDocument{
			ID:        addr.ID,
			Group:     group,
			Title:     addr.Title,
			Firstname: addr.Firstname,
			Lastname:  addr.Lastname,
			Email:     addr.Email,
			Phone:     addr.Phone,
			Mobile:    addr.Mobile,
			Fax:       addr.Fax,
			Address:   addr.Address,
			Address2:  addr.Address2,
			City:      addr.City,
			Nation:    addr.Nation,
			Zip:       addr.Zip,
		}
	}
	return doc
}

func (d *accountDocument) toAccount() *model.Account {
	if d == nil {
		return nil
	}
	a := &model.Account{
		ID:           d.ID,
		Username:     d.Username,
		IdentitySlot: d.IdentitySlot,
		AccountType:  model.AccountType(d.AccountType),
		Language:     d.Language,
		Registered:   d.Registered,
		ParentID:     d.ParentID,
	}
	if d.LastLogin != nil {
		a.LastLogin = *d.LastLogin
	}
	return a
}

func (d *addressDocument) toAddress(accountID string) *model.Address {
	return &model.Address{
		ID:        d.ID,
		AccountID: accountID,
		Group:     d.Group,
		Title:     d.Title,
		Firstname: d.Firstname,
		Lastname:  d.Lastname,
		Email:     d.Email,
		Phone:     d.Phone,
		Mobile:    d.Mobile,
		Fax:       d.Fax,
		Address:   d.Address,
		Address2:  d.Address2,
		City:      d.City,
		Nation:    d.Nation,
		Zip:       d.Zip,
	}
}

// compile-time interface check
var _ AccountRepository = (*MongoAccountRepo)(nil)
