package model

import (
	"time"
)

// LibraryMembership は1人のキュレーターが1枚のカードを自分のライブラリに追加した事実を表す。
type LibraryMembership struct {
	CuratorID       CuratorID
	AddedAt         time.Time
	PublishedRecord *PublishedRecord
}

// Card は1人のキュレーターが所有する保存済みコンテンツの集約。
// libraryCountは常にlibraryMembershipsの件数と一致し、集約のメソッドのみが更新する。
type Card struct {
	id                      CardID
	authorID                CuratorID
	content                 CardContent
	url                     *URL
	parentCardID            *CardID
	libraryMemberships      []LibraryMembership
	libraryCount            int
	originalPublishedRecord *PublishedRecord
	createdAt               time.Time
	updatedAt               time.Time
	version                 int
}

// CardParams はカード生成時のパラメータ。
// IDが空の場合は新しいIDを採番する。CreatedAt/UpdatedAtが空の場合は現在時刻を使う。
type CardParams struct {
	ID                      CardID
	AuthorID                CuratorID
	Content                 CardContent
	URL                     *URL
	ParentCardID            *CardID
	LibraryMemberships      []LibraryMembership
	OriginalPublishedRecord *PublishedRecord
	CreatedAt               time.Time
	UpdatedAt               time.Time
	Version                 int
}

// NewCard はカードを生成する。
// 種別と内容の組み合わせが不正な場合はValidationErrorを返す。
//   - URL: URLが必須。URLを省略した場合は内容のURLを使う。
//   - NOTE: 本文が必須。URLは任意。
//   - HIGHLIGHT: 引用文と引用元URLが必須。URLを省略した場合は引用元URLを使う。
func NewCard(p CardParams) (*Card, error) {
	if p.AuthorID.IsZero() {
		return nil, NewInvalidCardContentError("カードの作成者が指定されていません")
	}
	if p.Content == nil {
		return nil, NewInvalidCardContentError("カードの内容が指定されていません")
	}

	cardURL, err := resolveCardURL(p.Content, p.URL)
	if err != nil {
		return nil, err
	}

	id := p.ID
	if id.IsZero() {
		id = NewCardID()
	}

	if p.ParentCardID != nil {
		if p.Content.Type() == CardTypeURL {
			return nil, NewInvalidCardContentError("URLカードは親カードを持てません")
		}
		if p.ParentCardID.Equals(id) {
			return nil, NewInvalidCardContentError("カード自身を親カードに指定できません")
		}
	}

	now := time.Now().UTC()
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	c := &Card{
		id:                      id,
		authorID:                p.AuthorID,
		content:                 p.Content,
		url:                     cardURL,
		originalPublishedRecord: p.OriginalPublishedRecord,
		createdAt:               createdAt,
		updatedAt:               updatedAt,
		version:                 p.Version,
	}
	if p.ParentCardID != nil {
		parent := *p.ParentCardID
		c.parentCardID = &parent
	}

	// 初期メンバーシップは1キュレーター1件に正規化する
	for _, m := range p.LibraryMemberships {
		if m.CuratorID.IsZero() || c.IsInLibrary(m.CuratorID) {
			continue
		}
		if m.AddedAt.IsZero() {
			m.AddedAt = createdAt
		}
		c.libraryMemberships = append(c.libraryMemberships, m)
	}
	c.libraryCount = len(c.libraryMemberships)

	return c, nil
}

// resolveCardURL は内容とURL引数からカードのURLを決定する。
func resolveCardURL(content CardContent, explicit *URL) (*URL, error) {
	switch c := content.(type) {
	case URLContent:
		if c.URL().IsZero() {
			return nil, NewInvalidCardContentError("URLカードにはURLが必要です")
		}
		if explicit != nil && !explicit.Equals(c.URL()) {
			return nil, NewInvalidCardContentError("URLと内容のURLが一致しません")
		}
		u := c.URL()
		return &u, nil
	case NoteContent:
		if c.Text() == "" {
			return nil, NewInvalidCardContentError("メモの本文が空です")
		}
		if explicit == nil || explicit.IsZero() {
			return nil, nil
		}
		u := *explicit
		return &u, nil
	case HighlightContent:
		if c.Text() == "" || c.SourceURL().IsZero() {
			return nil, NewInvalidCardContentError("ハイライトには引用文と引用元URLが必要です")
		}
		if explicit != nil && !explicit.IsZero() {
			u := *explicit
			return &u, nil
		}
		u := c.SourceURL()
		return &u, nil
	default:
		return nil, NewInvalidCardContentError("未知のカード内容です")
	}
}

// ID はカードIDを返す。
func (c *Card) ID() CardID { return c.id }

// AuthorID はカードを所有するキュレーターを返す。
func (c *Card) AuthorID() CuratorID { return c.authorID }

// Type はカード種別を返す。
func (c *Card) Type() CardType { return c.content.Type() }

// Content はカード内容を返す。
func (c *Card) Content() CardContent { return c.content }

// URL はカードのURLを返す。NOTEカードではnilの場合がある。
func (c *Card) URL() *URL {
	if c.url == nil {
		return nil
	}
	u := *c.url
	return &u
}

// ParentCardID は親カードIDを返す。
func (c *Card) ParentCardID() *CardID {
	if c.parentCardID == nil {
		return nil
	}
	id := *c.parentCardID
	return &id
}

// LibraryMemberships はライブラリメンバーシップのコピーを返す。
func (c *Card) LibraryMemberships() []LibraryMembership {
	out := make([]LibraryMembership, len(c.libraryMemberships))
	copy(out, c.libraryMemberships)
	return out
}

// LibraryCount はライブラリに追加しているキュレーター数を返す。
func (c *Card) LibraryCount() int { return c.libraryCount }

// OriginalPublishedRecord は初回公開時の公開記録を返す。
func (c *Card) OriginalPublishedRecord() *PublishedRecord { return c.originalPublishedRecord }

// CreatedAt は作成日時を返す。
func (c *Card) CreatedAt() time.Time { return c.createdAt }

// UpdatedAt は更新日時を返す。
func (c *Card) UpdatedAt() time.Time { return c.updatedAt }

// Version は永続化済みのバージョンを返す。未保存のカードは0。
func (c *Card) Version() int { return c.version }

// MarkSaved は永続化成功後にリポジトリから呼ばれ、バージョンを進める。
func (c *Card) MarkSaved() { c.version++ }

// IsAuthor は指定キュレーターがカードの作成者かどうかを返す。
func (c *Card) IsAuthor(curatorID CuratorID) bool { return c.authorID.Equals(curatorID) }

// IsInLibrary は指定キュレーターのライブラリにカードがあるかどうかを返す。
func (c *Card) IsInLibrary(curatorID CuratorID) bool {
	_, ok := c.membershipIndex(curatorID)
	return ok
}

// LibraryMembershipOf は指定キュレーターのメンバーシップを返す。
func (c *Card) LibraryMembershipOf(curatorID CuratorID) (LibraryMembership, bool) {
	i, ok := c.membershipIndex(curatorID)
	if !ok {
		return LibraryMembership{}, false
	}
	return c.libraryMemberships[i], true
}

func (c *Card) membershipIndex(curatorID CuratorID) (int, bool) {
	for i, m := range c.libraryMemberships {
		if m.CuratorID.Equals(curatorID) {
			return i, true
		}
	}
	return -1, false
}

// AddToLibrary はキュレーターのライブラリにカードを追加する。
// すでに追加済みの場合は何もせず成功する。
func (c *Card) AddToLibrary(curatorID CuratorID) error {
	if curatorID.IsZero() {
		return NewInvalidCuratorIDError("")
	}
	if c.IsInLibrary(curatorID) {
		return nil
	}
	now := time.Now().UTC()
	c.libraryMemberships = append(c.libraryMemberships, LibraryMembership{
		CuratorID: curatorID,
		AddedAt:   now,
	})
	c.libraryCount++
	c.updatedAt = now
	return nil
}

// RemoveFromLibrary はキュレーターのライブラリからカードを取り除く。
// 追加されていない場合は何もせず成功する。
func (c *Card) RemoveFromLibrary(curatorID CuratorID) error {
	i, ok := c.membershipIndex(curatorID)
	if !ok {
		return nil
	}
	c.libraryMemberships = append(c.libraryMemberships[:i], c.libraryMemberships[i+1:]...)
	c.libraryCount--
	c.updatedAt = time.Now().UTC()
	return nil
}

// MarkCardInLibraryAsPublished はキュレーターのメンバーシップに公開記録を付与する。
// メンバーシップがない場合はエラーを返す。
func (c *Card) MarkCardInLibraryAsPublished(curatorID CuratorID, record *PublishedRecord) error {
	i, ok := c.membershipIndex(curatorID)
	if !ok {
		return NewNotInLibraryError(c.id, curatorID)
	}
	if record == nil {
		return NewValidationError(ErrCodeInvalidPublishedRecord, "公開記録が指定されていません")
	}
	c.libraryMemberships[i].PublishedRecord = record
	c.updatedAt = time.Now().UTC()
	return nil
}

// MarkAsOriginallyPublished はカード初回公開時の公開記録を設定する。
func (c *Card) MarkAsOriginallyPublished(record *PublishedRecord) error {
	if record == nil {
		return NewValidationError(ErrCodeInvalidPublishedRecord, "公開記録が指定されていません")
	}
	c.originalPublishedRecord = record
	c.updatedAt = time.Now().UTC()
	return nil
}

// UpdateContent はカード内容を差し替える。
// 種別の変更、URLカードのURL変更はできない。
func (c *Card) UpdateContent(content CardContent) error {
	if content == nil {
		return NewInvalidCardContentError("カードの内容が指定されていません")
	}
	if content.Type() != c.content.Type() {
		return NewInvalidCardContentError("カード種別は変更できません")
	}
	if uc, ok := content.(URLContent); ok && c.url != nil && !uc.URL().Equals(*c.url) {
		return NewInvalidCardContentError("URLカードのURLは変更できません")
	}
	c.content = content
	c.updatedAt = time.Now().UTC()
	return nil
}

// UpdateMetadata はURLカードのメタデータを差し替える。URLカード以外では何もしない。
func (c *Card) UpdateMetadata(metadata URLMetadata) {
	uc, ok := c.content.(URLContent)
	if !ok {
		return
	}
	c.content = uc.WithMetadata(metadata)
	c.updatedAt = time.Now().UTC()
}

// Clone はカードの複製を返す。スライスとポインタは共有しない。
func (c *Card) Clone() *Card {
	copied := *c
	copied.url = c.URL()
	copied.parentCardID = c.ParentCardID()
	copied.libraryMemberships = c.LibraryMemberships()
	return &copied
}
