// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/cardshelf/internal/model"
	"github.com/hitoshi/cardshelf/internal/query"
)

// UnitOfWork は複数の集約の保存を1つのトランザクションにまとめる。
type UnitOfWork interface {
	// Do はfnを1つの作業単位として実行する。fnがエラーを返した場合は全ての変更を破棄する。
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// CardRepository はカード集約の永続化インターフェース。
type CardRepository interface {
	// FindByID は指定IDのカードをメンバーシップ込みで取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id model.CardID) (*model.Card, error)

	// FindUsersURLCard は指定キュレーターが作成した、指定URLのURLカードを取得する。
	// 見つからない場合はnilを返す。
	FindUsersURLCard(ctx context.Context, curatorID model.CuratorID, url model.URL) (*model.Card, error)

	// FindUsersNoteCard は指定キュレーターが作成した、parentCardIDに紐づくメモカードを取得する。
	// 見つからない場合はnilを返す。
	FindUsersNoteCard(ctx context.Context, curatorID model.CuratorID, parentCardID model.CardID) (*model.Card, error)

	// FindNoteCardsByParent はparentCardIDに紐づく全キュレーターのNOTE/HIGHLIGHTカードを取得する。
	FindNoteCardsByParent(ctx context.Context, parentCardID model.CardID) ([]*model.Card, error)

	// Save はカードと全メンバーシップを保存する。
	// 既存カードはバージョンが一致する場合のみ更新し、一致しない場合はConflictErrorを返す。
	Save(ctx context.Context, card *model.Card) error

	// Delete は指定IDのカードを削除する。メンバーシップとコレクションリンクはCASCADE削除される。
	Delete(ctx context.Context, id model.CardID) error
}

// CollectionRepository はコレクション集約の永続化インターフェース。
type CollectionRepository interface {
	// FindByID は指定IDのコレクションを共同編集者・カードリンク込みで取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id model.CollectionID) (*model.Collection, error)

	// FindByIDs は指定IDのコレクションをまとめて取得する。存在しないIDは無視する。
	FindByIDs(ctx context.Context, ids []model.CollectionID) ([]*model.Collection, error)

	// FindByCardID は指定カードを含む全てのコレクションを取得する。
	FindByCardID(ctx context.Context, cardID model.CardID) ([]*model.Collection, error)

	// FindByAuthorAndCard は指定キュレーターが作成し、指定カードを含むコレクションを取得する。
	FindByAuthorAndCard(ctx context.Context, authorID model.CuratorID, cardID model.CardID) ([]*model.Collection, error)

	// Save はコレクションと共同編集者・カードリンクを保存する。
	// 既存コレクションはバージョンが一致する場合のみ更新し、一致しない場合はConflictErrorを返す。
	Save(ctx context.Context, collection *model.Collection) error

	// Delete は指定IDのコレクションを削除する。共同編集者とカードリンクはCASCADE削除される。
	Delete(ctx context.Context, id model.CollectionID) error
}

// PublishedRecordRepository は公開記録の永続化インターフェース。
type PublishedRecordRepository interface {
	// Upsert は (uri, cid) で重複排除して公開記録を保存する。
	// 同じ組がすでにあれば既存の行を返し、createdはfalseになる。
	Upsert(ctx context.Context, ref model.PublishedRecordRef) (record *model.PublishedRecord, created bool, err error)

	// FindByURI はURIに一致する最新の公開記録を取得する。見つからない場合はnilを返す。
	FindByURI(ctx context.Context, uri string) (*model.PublishedRecord, error)

	// DeleteOrphansOlderThan はどこからも参照されず、beforeより前に記録された公開記録を削除する。
	DeleteOrphansOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// CardQueryRepository はカードの読み取り専用クエリ。集約を経由せずビューを直接組み立てる。
type CardQueryRepository interface {
	// GetURLCardsOfUser はキュレーターのライブラリにあるURLカードを返す。
	// 各カードにはそのキュレーター自身のメモと、カードを含むコレクションが付与される。
	GetURLCardsOfUser(ctx context.Context, curatorID model.CuratorID, opts query.CardOptions) (query.Result[URLCardView], error)

	// GetCardsInCollection はコレクション内のURLカードを返す。
	// 各カードにはコレクション作成者が書いたメモのみが付与される。
	GetCardsInCollection(ctx context.Context, collectionID model.CollectionID, opts query.CardOptions) (query.Result[URLCardView], error)

	// GetURLCardView はURLカード1件をコレクション情報付きで返す。見つからない場合はnilを返す。
	GetURLCardView(ctx context.Context, cardID model.CardID) (*URLCardView, error)

	// GetLibrariesForCard はカードをライブラリに追加している全キュレーターを返す。
	GetLibrariesForCard(ctx context.Context, cardID model.CardID) ([]LibraryEntry, error)

	// GetLibrariesForURL は同じURLを持つ全キュレーターのURLカードを (キュレーター, カード) 単位で返す。
	GetLibrariesForURL(ctx context.Context, url model.URL, opts query.CardOptions) (query.Result[LibraryEntry], error)

	// GetNoteCardsForURL はURLに一致する全キュレーターのNOTEカードを返す。
	GetNoteCardsForURL(ctx context.Context, url model.URL, opts query.CardOptions) (query.Result[NoteCardView], error)
}

// CollectionQueryRepository はコレクションの読み取り専用クエリ。
type CollectionQueryRepository interface {
	// FindByCreator はキュレーターが作成したコレクションを返す。opts.SearchTextで名前・説明を絞り込む。
	FindByCreator(ctx context.Context, curatorID model.CuratorID, opts query.CollectionOptions) (query.Result[CollectionView], error)

	// GetCollectionsContainingCardForUser はキュレーターが作成し、カードを含むコレクションを名前順で返す。
	GetCollectionsContainingCardForUser(ctx context.Context, cardID model.CardID, curatorID model.CuratorID) ([]CollectionView, error)

	// GetCollectionsWithURL はURLに一致するURLカードを含むコレクションを重複なく返す。
	GetCollectionsWithURL(ctx context.Context, url model.URL, opts query.CollectionOptions) (query.Result[CollectionView], error)

	// FindCollectionIDByURI は公開記録のURIからコレクションIDを解決する。見つからない場合はnilを返す。
	FindCollectionIDByURI(ctx context.Context, uri string) (*model.CollectionID, error)

	// FindCardIDByURI は公開記録のURIからカードIDを解決する。見つからない場合はnilを返す。
	FindCardIDByURI(ctx context.Context, uri string) (*model.CardID, error)
}
