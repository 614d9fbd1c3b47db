package model

import (
	"strings"

	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/google/uuid"
)

// curatorIDPrefix はキュレーターIDに要求されるプレフィックス。
const curatorIDPrefix = "did:"

// CuratorID はキュレーター（ユーザー）を一意に識別するDID。
type CuratorID struct {
	value string
}

// NewCuratorID は文字列からCuratorIDを生成する。
// did: で始まり、atprotoのDID構文を満たす必要がある。
func NewCuratorID(raw string) (CuratorID, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, curatorIDPrefix) {
		return CuratorID{}, NewInvalidCuratorIDError(raw)
	}
	did, err := syntax.ParseDID(raw)
	if err != nil {
		return CuratorID{}, NewInvalidCuratorIDError(raw)
	}
	return CuratorID{value: did.String()}, nil
}

// MustCuratorID はNewCuratorIDの結果がエラーの場合panicする。
// テストと定数定義での利用のみを想定している。
func MustCuratorID(raw string) CuratorID {
	id, err := NewCuratorID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// String はDID文字列を返す。
func (id CuratorID) String() string { return id.value }

// IsZero はゼロ値かどうかを返す。
func (id CuratorID) IsZero() bool { return id.value == "" }

// Equals は値が等しいかどうかを返す。
func (id CuratorID) Equals(other CuratorID) bool { return id.value == other.value }

// IsHandle は識別子がハンドル形式（example.bsky.social など）かどうかを返す。
func IsHandle(raw string) bool {
	_, err := syntax.ParseHandle(strings.TrimPrefix(strings.TrimSpace(raw), "@"))
	return err == nil
}

// CardID はカードの識別子（UUID）。
type CardID struct {
	value string
}

// NewCardID は新しいランダムなCardIDを生成する。
func NewCardID() CardID {
	return CardID{value: uuid.New().String()}
}

// ParseCardID は文字列からCardIDを生成する。
func ParseCardID(raw string) (CardID, error) {
	u, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return CardID{}, NewValidationError(ErrCodeInvalidCardID, "カードIDはUUID形式で指定してください: "+raw)
	}
	return CardID{value: u.String()}, nil
}

// String はUUID文字列を返す。
func (id CardID) String() string { return id.value }

// IsZero はゼロ値かどうかを返す。
func (id CardID) IsZero() bool { return id.value == "" }

// Equals は値が等しいかどうかを返す。
func (id CardID) Equals(other CardID) bool { return id.value == other.value }

// CollectionID はコレクションの識別子（UUID）。
type CollectionID struct {
	value string
}

// NewCollectionID は新しいランダムなCollectionIDを生成する。
func NewCollectionID() CollectionID {
	return CollectionID{value: uuid.New().String()}
}

// ParseCollectionID は文字列からCollectionIDを生成する。
func ParseCollectionID(raw string) (CollectionID, error) {
	u, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return CollectionID{}, NewValidationError(ErrCodeInvalidCollectionID, "コレクションIDはUUID形式で指定してください: "+raw)
	}
	return CollectionID{value: u.String()}, nil
}

// String はUUID文字列を返す。
func (id CollectionID) String() string { return id.value }

// IsZero はゼロ値かどうかを返す。
func (id CollectionID) IsZero() bool { return id.value == "" }

// Equals は値が等しいかどうかを返す。
func (id CollectionID) Equals(other CollectionID) bool { return id.value == other.value }

// PublishedRecordID は公開記録行の識別子（UUID）。
type PublishedRecordID struct {
	value string
}

// NewPublishedRecordID は新しいランダムなPublishedRecordIDを生成する。
func NewPublishedRecordID() PublishedRecordID {
	return PublishedRecordID{value: uuid.New().String()}
}

// ParsePublishedRecordID は文字列からPublishedRecordIDを生成する。
func ParsePublishedRecordID(raw string) (PublishedRecordID, error) {
	u, err := uuid.Parse(raw)
	if err != nil {
		return PublishedRecordID{}, NewValidationError(ErrCodeInvalidPublishedRecord, "公開記録IDが不正です: "+raw)
	}
	return PublishedRecordID{value: u.String()}, nil
}

// String はUUID文字列を返す。
func (id PublishedRecordID) String() string { return id.value }

// IsZero はゼロ値かどうかを返す。
func (id PublishedRecordID) IsZero() bool { return id.value == "" }
