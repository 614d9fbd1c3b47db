package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// コレクションの長さ制限
const (
	MaxCollectionNameLength        = 100
	MaxCollectionDescriptionLength = 500
)

// AccessType はコレクションのアクセス種別。
type AccessType string

const (
	// AccessTypeOpen は誰でもカードを追加できる。
	AccessTypeOpen AccessType = "OPEN"
	// AccessTypeClosed は作成者と共同編集者のみカードを追加できる。
	AccessTypeClosed AccessType = "CLOSED"
)

// ParseAccessType は文字列からAccessTypeを生成する。
func ParseAccessType(raw string) (AccessType, error) {
	switch t := AccessType(strings.ToUpper(strings.TrimSpace(raw))); t {
	case AccessTypeOpen, AccessTypeClosed:
		return t, nil
	default:
		return "", NewInvalidAccessTypeError(raw)
	}
}

// IsValid は定義済みのアクセス種別かどうかを返す。
func (t AccessType) IsValid() bool {
	return t == AccessTypeOpen || t == AccessTypeClosed
}

// CardLink はコレクションに含まれる1枚のカードへのリンク。
type CardLink struct {
	CardID          CardID
	AddedBy         CuratorID
	AddedAt         time.Time
	PublishedRecord *PublishedRecord
}

// Collection は1人の作成者がまとめたカードの集合を表す集約。
// cardCountは常にcardLinksの件数と一致する。
type Collection struct {
	id              CollectionID
	authorID        CuratorID
	name            string
	description     string
	accessType      AccessType
	collaboratorIDs []CuratorID
	cardLinks       []CardLink
	cardCount       int
	publishedRecord *PublishedRecord
	createdAt       time.Time
	updatedAt       time.Time
	version         int
}

// CollectionParams はコレクション生成時のパラメータ。
type CollectionParams struct {
	ID              CollectionID
	AuthorID        CuratorID
	Name            string
	Description     string
	AccessType      AccessType
	CollaboratorIDs []CuratorID
	CardLinks       []CardLink
	PublishedRecord *PublishedRecord
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Version         int
}

// NewCollection はコレクションを生成する。
// 名前・説明の長さ、アクセス種別が不正な場合はValidationErrorを返す。
func NewCollection(p CollectionParams) (*Collection, error) {
	if p.AuthorID.IsZero() {
		return nil, NewInvalidCuratorIDError("")
	}
	name, err := validateCollectionName(p.Name)
	if err != nil {
		return nil, err
	}
	description, err := validateCollectionDescription(p.Description)
	if err != nil {
		return nil, err
	}
	if !p.AccessType.IsValid() {
		return nil, NewInvalidAccessTypeError(string(p.AccessType))
	}

	id := p.ID
	if id.IsZero() {
		id = NewCollectionID()
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	c := &Collection{
		id:              id,
		authorID:        p.AuthorID,
		name:            name,
		description:     description,
		accessType:      p.AccessType,
		publishedRecord: p.PublishedRecord,
		createdAt:       createdAt,
		updatedAt:       updatedAt,
		version:         p.Version,
	}
	for _, collaborator := range p.CollaboratorIDs {
		if collaborator.IsZero() || c.IsCollaborator(collaborator) {
			continue
		}
		c.collaboratorIDs = append(c.collaboratorIDs, collaborator)
	}
	for _, link := range p.CardLinks {
		if link.CardID.IsZero() || c.HasCard(link.CardID) {
			continue
		}
		if link.AddedAt.IsZero() {
			link.AddedAt = createdAt
		}
		c.cardLinks = append(c.cardLinks, link)
	}
	c.cardCount = len(c.cardLinks)

	return c, nil
}

func validateCollectionName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", NewInvalidCollectionNameError("名前が空です")
	}
	if utf8.RuneCountInString(name) > MaxCollectionNameLength {
		return "", NewInvalidCollectionNameError("名前が長すぎます")
	}
	return name, nil
}

func validateCollectionDescription(raw string) (string, error) {
	description := strings.TrimSpace(raw)
	if utf8.RuneCountInString(description) > MaxCollectionDescriptionLength {
		return "", NewInvalidDescriptionError()
	}
	return description, nil
}

// ID はコレクションIDを返す。
func (c *Collection) ID() CollectionID { return c.id }

// AuthorID はコレクションの作成者を返す。
func (c *Collection) AuthorID() CuratorID { return c.authorID }

// Name はコレクション名を返す。
func (c *Collection) Name() string { return c.name }

// Description は説明文を返す。
func (c *Collection) Description() string { return c.description }

// AccessType はアクセス種別を返す。
func (c *Collection) AccessType() AccessType { return c.accessType }

// CardCount はリンクされているカードの数を返す。
func (c *Collection) CardCount() int { return c.cardCount }

// CreatedAt は作成日時を返す。
func (c *Collection) CreatedAt() time.Time { return c.createdAt }

// UpdatedAt は最終更新日時を返す。
func (c *Collection) UpdatedAt() time.Time { return c.updatedAt }

// Version は楽観ロック用のバージョンを返す。未保存の場合は0。
func (c *Collection) Version() int { return c.version }

// PublishedRecord はコレクション自体の公開記録を返す。未公開の場合はnil。
func (c *Collection) PublishedRecord() *PublishedRecord { return c.publishedRecord }

// CollaboratorIDs は共同編集者のコピーを返す。
func (c *Collection) CollaboratorIDs() []CuratorID {
	out := make([]CuratorID, len(c.collaboratorIDs))
	copy(out, c.collaboratorIDs)
	return out
}

// CardLinks はカードリンクのコピーを返す。
func (c *Collection) CardLinks() []CardLink {
	out := make([]CardLink, len(c.cardLinks))
	copy(out, c.cardLinks)
	return out
}

// MarkSaved は永続化成功後にリポジトリから呼ばれ、バージョンを進める。
func (c *Collection) MarkSaved() { c.version++ }

// IsAuthor は指定キュレーターが作成者かどうかを返す。
func (c *Collection) IsAuthor(curatorID CuratorID) bool { return c.authorID.Equals(curatorID) }

// IsCollaborator は指定キュレーターが共同編集者かどうかを返す。
func (c *Collection) IsCollaborator(curatorID CuratorID) bool {
	for _, id := range c.collaboratorIDs {
		if id.Equals(curatorID) {
			return true
		}
	}
	return false
}

// CanManage は共同編集者やアクセス種別を管理できるかどうかを返す。作成者のみ。
func (c *Collection) CanManage(curatorID CuratorID) bool { return c.IsAuthor(curatorID) }

// CanAddCard はカードの追加・削除が許可されているかどうかを返す。
//   - 作成者は常に許可
//   - OPENなら誰でも許可
//   - CLOSEDなら作成者と共同編集者のみ
func (c *Collection) CanAddCard(curatorID CuratorID) bool {
	if c.IsAuthor(curatorID) {
		return true
	}
	if c.accessType == AccessTypeOpen {
		return !curatorID.IsZero()
	}
	return c.IsCollaborator(curatorID)
}

// HasCard はカードがコレクションに含まれるかどうかを返す。
func (c *Collection) HasCard(cardID CardID) bool {
	_, ok := c.linkIndex(cardID)
	return ok
}

// CardLinkOf はカードのリンクを返す。
func (c *Collection) CardLinkOf(cardID CardID) (CardLink, bool) {
	i, ok := c.linkIndex(cardID)
	if !ok {
		return CardLink{}, false
	}
	return c.cardLinks[i], true
}

func (c *Collection) linkIndex(cardID CardID) (int, bool) {
	for i, link := range c.cardLinks {
		if link.CardID.Equals(cardID) {
			return i, true
		}
	}
	return -1, false
}

// AddCard はカードをコレクションに追加する。
// 権限がない場合はAccessErrorを返す。追加済みの場合は何もせず成功する。
func (c *Collection) AddCard(cardID CardID, curatorID CuratorID) error {
	if !c.CanAddCard(curatorID) {
		return NewCollectionAccessError("このコレクションにカードを追加できません")
	}
	if c.HasCard(cardID) {
		return nil
	}
	now := time.Now().UTC()
	c.cardLinks = append(c.cardLinks, CardLink{
		CardID:  cardID,
		AddedBy: curatorID,
		AddedAt: now,
	})
	c.cardCount++
	c.updatedAt = now
	return nil
}

// RemoveCard はカードをコレクションから取り除く。
// 権限がない場合はAccessErrorを返す。含まれていない場合は何もせず成功する。
func (c *Collection) RemoveCard(cardID CardID, curatorID CuratorID) error {
	if !c.CanAddCard(curatorID) {
		return NewCollectionAccessError("このコレクションからカードを削除できません")
	}
	i, ok := c.linkIndex(cardID)
	if !ok {
		return nil
	}
	c.cardLinks = append(c.cardLinks[:i], c.cardLinks[i+1:]...)
	c.cardCount--
	c.updatedAt = time.Now().UTC()
	return nil
}

// AddCollaborator は共同編集者を追加する。作成者のみ実行できる。
func (c *Collection) AddCollaborator(collaboratorID, actorID CuratorID) error {
	if !c.CanManage(actorID) {
		return NewCollectionAccessError("共同編集者を管理できるのは作成者のみです")
	}
	if collaboratorID.IsZero() {
		return NewInvalidCuratorIDError("")
	}
	if c.IsAuthor(collaboratorID) || c.IsCollaborator(collaboratorID) {
		return nil
	}
	c.collaboratorIDs = append(c.collaboratorIDs, collaboratorID)
	c.updatedAt = time.Now().UTC()
	return nil
}

// RemoveCollaborator は共同編集者を削除する。作成者のみ実行できる。
func (c *Collection) RemoveCollaborator(collaboratorID, actorID CuratorID) error {
	if !c.CanManage(actorID) {
		return NewCollectionAccessError("共同編集者を管理できるのは作成者のみです")
	}
	for i, id := range c.collaboratorIDs {
		if id.Equals(collaboratorID) {
			c.collaboratorIDs = append(c.collaboratorIDs[:i], c.collaboratorIDs[i+1:]...)
			c.updatedAt = time.Now().UTC()
			return nil
		}
	}
	return nil
}

// ChangeAccessType はアクセス種別を変更する。作成者のみ実行できる。
func (c *Collection) ChangeAccessType(accessType AccessType, actorID CuratorID) error {
	if !c.CanManage(actorID) {
		return NewCollectionAccessError("アクセス種別を変更できるのは作成者のみです")
	}
	if !accessType.IsValid() {
		return NewInvalidAccessTypeError(string(accessType))
	}
	if c.accessType == accessType {
		return nil
	}
	c.accessType = accessType
	c.updatedAt = time.Now().UTC()
	return nil
}

// UpdateDetails は名前と説明を変更する。作成者のみ実行できる。
func (c *Collection) UpdateDetails(name, description string, actorID CuratorID) error {
	if !c.CanManage(actorID) {
		return NewCollectionAccessError("コレクションを編集できるのは作成者のみです")
	}
	validName, err := validateCollectionName(name)
	if err != nil {
		return err
	}
	validDescription, err := validateCollectionDescription(description)
	if err != nil {
		return err
	}
	c.name = validName
	c.description = validDescription
	c.updatedAt = time.Now().UTC()
	return nil
}

// MarkAsPublished はコレクション自体の公開記録を設定する。
func (c *Collection) MarkAsPublished(record *PublishedRecord) error {
	if record == nil {
		return NewValidationError(ErrCodeInvalidPublishedRecord, "公開記録が指定されていません")
	}
	c.publishedRecord = record
	c.updatedAt = time.Now().UTC()
	return nil
}

// MarkCardLinkAsPublished はカードリンクに公開記録を設定する。
// カードが含まれていない場合はNotFoundErrorを返す。
func (c *Collection) MarkCardLinkAsPublished(cardID CardID, record *PublishedRecord) error {
	i, ok := c.linkIndex(cardID)
	if !ok {
		return NewCardNotInCollectionError(cardID, c.id)
	}
	if record == nil {
		return NewValidationError(ErrCodeInvalidPublishedRecord, "公開記録が指定されていません")
	}
	c.cardLinks[i].PublishedRecord = record
	c.updatedAt = time.Now().UTC()
	return nil
}

// Clone はコレクションの複製を返す。スライスは共有しない。
func (c *Collection) Clone() *Collection {
	copied := *c
	copied.collaboratorIDs = c.CollaboratorIDs()
	copied.cardLinks = c.CardLinks()
	return &copied
}
