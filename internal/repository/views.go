package repository

import (
	"time"

	"github.com/hitoshi/cardshelf/internal/model"
)

// NoteView はURLカードに付与するメモ。
type NoteView struct {
	ID        model.CardID
	AuthorID  model.CuratorID
	Text      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CollectionSummary はカードを含むコレクションの概要。
type CollectionSummary struct {
	ID       model.CollectionID
	Name     string
	AuthorID model.CuratorID
	URI      string
}

// URLCardView はURLカードの一覧表示用ビュー。LibraryCountは集約が保持する値をそのまま読む。
type URLCardView struct {
	ID           model.CardID
	AuthorID     model.CuratorID
	URL          string
	Metadata     *model.URLMetadata
	LibraryCount int
	URI          string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Note         *NoteView
	Collections  []CollectionSummary
}

// LibraryEntry は1人のキュレーターのライブラリにある1枚のカード。
type LibraryEntry struct {
	CuratorID    model.CuratorID
	CardID       model.CardID
	CardAuthorID model.CuratorID
	URL          string
	AddedAt      time.Time
	URI          string
}

// NoteCardView はメモカードの一覧表示用ビュー。
type NoteCardView struct {
	ID           model.CardID
	AuthorID     model.CuratorID
	Text         string
	Title        string
	URL          string
	ParentCardID *model.CardID
	LibraryCount int
	URI          string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CollectionView はコレクションの一覧表示用ビュー。CardCountは集約が保持する値をそのまま読む。
type CollectionView struct {
	ID          model.CollectionID
	AuthorID    model.CuratorID
	Name        string
	Description string
	AccessType  model.AccessType
	CardCount   int
	URI         string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
