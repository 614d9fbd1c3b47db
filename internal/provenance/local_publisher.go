package provenance

import (
	"context"
	"crypto/sha256"
	"encoding/base32"
	"strings"

	"github.com/bluesky-social/indigo/atproto/syntax"

	"github.com/hitoshi/cardshelf/internal/model"
)

// 公開レコードのコレクションNSID
const (
	CardNSID           = "network.cosmik.card"
	CollectionNSID     = "network.cosmik.collection"
	CollectionLinkNSID = "network.cosmik.collectionLink"
)

// cidPrefix はCIDv1 (dag-cbor, sha2-256, 32バイト) のバイト列の先頭。
var cidPrefix = []byte{0x01, 0x71, 0x12, 0x20}

var multibase32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// LocalPublisher は外部PDSへ送信せず、AT-URIとCIDをローカルで採番するPublisher。
// レコードキーはTID、CIDはレコード内容のsha256から求める。
type LocalPublisher struct{}

// NewLocalPublisher はLocalPublisherを生成する。
func NewLocalPublisher() *LocalPublisher {
	return &LocalPublisher{}
}

func (p *LocalPublisher) PublishCard(_ context.Context, card *model.Card, curatorID model.CuratorID) (model.PublishedRecordRef, error) {
	return mint(curatorID, CardNSID, "card", card.ID().String(), curatorID.String())
}

func (p *LocalPublisher) PublishCollection(_ context.Context, collection *model.Collection) (model.PublishedRecordRef, error) {
	return mint(collection.AuthorID(), CollectionNSID, "collection", collection.ID().String(), collection.Name())
}

func (p *LocalPublisher) PublishCollectionLink(_ context.Context, collection *model.Collection, cardID model.CardID, curatorID model.CuratorID) (model.PublishedRecordRef, error) {
	return mint(curatorID, CollectionLinkNSID, "link", collection.ID().String(), cardID.String())
}

func mint(repo model.CuratorID, nsid string, parts ...string) (model.PublishedRecordRef, error) {
	rkey := syntax.NewTIDNow(0)
	uri := "at://" + repo.String() + "/" + nsid + "/" + rkey.String()
	return model.NewPublishedRecordRef(uri, contentCID(append(parts, rkey.String())...))
}

// contentCID は内容のsha256からbase32のCIDv1文字列を求める。
func contentCID(parts ...string) string {
	digest := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	raw := append(append([]byte{}, cidPrefix...), digest[:]...)
	return "b" + strings.ToLower(multibase32.EncodeToString(raw))
}

// compile-time interface check
var _ Publisher = (*LocalPublisher)(nil)
