package model

import (
	"strings"
	"time"

	"github.com/bluesky-social/indigo/atproto/syntax"
)

// PublishedRecordRef は外部プロトコル上の公開レコードを指す (uri, cid) の組。
// 同じ組は同じ公開イベントを表す。
type PublishedRecordRef struct {
	uri string
	cid string
}

// NewPublishedRecordRef はAT-URIとCIDを検証してPublishedRecordRefを生成する。
func NewPublishedRecordRef(uri, cid string) (PublishedRecordRef, error) {
	aturi, err := syntax.ParseATURI(strings.TrimSpace(uri))
	if err != nil {
		return PublishedRecordRef{}, NewValidationError(ErrCodeInvalidPublishedRecord, "AT-URIが不正です: "+uri)
	}
	parsedCID, err := syntax.ParseCID(strings.TrimSpace(cid))
	if err != nil {
		return PublishedRecordRef{}, NewValidationError(ErrCodeInvalidPublishedRecord, "CIDが不正です: "+cid)
	}
	return PublishedRecordRef{uri: aturi.String(), cid: parsedCID.String()}, nil
}

// URI はAT-URIを返す。
func (r PublishedRecordRef) URI() string { return r.uri }

// CID はコンテンツ識別子を返す。
func (r PublishedRecordRef) CID() string { return r.cid }

// IsZero はゼロ値かどうかを返す。
func (r PublishedRecordRef) IsZero() bool { return r.uri == "" }

// Equals は (uri, cid) が等しいかどうかを返す。
func (r PublishedRecordRef) Equals(other PublishedRecordRef) bool {
	return r.uri == other.uri && r.cid == other.cid
}

// PublishedRecord は重複排除済みの公開記録。
// 複数のカード・コレクション・リンクが同じ行を参照できる。
type PublishedRecord struct {
	ID         PublishedRecordID
	Ref        PublishedRecordRef
	RecordedAt time.Time
}

// NewPublishedRecord は新しい公開記録を生成する。IDは永続化時に確定する場合がある。
func NewPublishedRecord(ref PublishedRecordRef, now time.Time) *PublishedRecord {
	return &PublishedRecord{
		ID:         NewPublishedRecordID(),
		Ref:        ref,
		RecordedAt: now,
	}
}

// URI は公開記録のAT-URIを返す。
func (p *PublishedRecord) URI() string {
	if p == nil {
		return ""
	}
	return p.Ref.URI()
}

// ATURICollection はAT-URIのコレクションNSID部分を返す（例: network.cosmik.collection）。
func ATURICollection(uri string) string {
	aturi, err := syntax.ParseATURI(uri)
	if err != nil {
		return ""
	}
	return aturi.Collection().String()
}
