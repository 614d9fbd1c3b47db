package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hitoshi/cardshelf/internal/database"
	"github.com/hitoshi/cardshelf/internal/model"
	"github.com/hitoshi/cardshelf/internal/query"
)

// PostgresCollectionQueryRepo はPostgreSQLを使用したコレクションの読み取り専用クエリ。
type PostgresCollectionQueryRepo struct {
	db *sql.DB
}

// NewPostgresCollectionQueryRepo はPostgresCollectionQueryRepoを生成する。
func NewPostgresCollectionQueryRepo(db *sql.DB) *PostgresCollectionQueryRepo {
	return &PostgresCollectionQueryRepo{db: db}
}

const selectCollectionViewColumns = `
	SELECT col.id, col.author_id, col.name, col.description, col.access_type,
	       col.card_count, COALESCE(pr.uri, ''), col.created_at, col.updated_at
	FROM collections col
	LEFT JOIN published_records pr ON pr.id = col.published_record_id`

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern は部分一致検索用のILIKEパターンを返す。
func likePattern(search string) string {
	return "%" + likeEscaper.Replace(search) + "%"
}

func collectionOrderBy(opts query.CollectionOptions) string {
	col := "col.updated_at"
	switch opts.SortBy {
	case query.CollectionSortName:
		col = "lower(col.name)"
	case query.CollectionSortCreatedAt:
		col = "col.created_at"
	case query.CollectionSortCardCount:
		col = "col.card_count"
	}
	dir := "DESC"
	if opts.SortOrder == query.SortOrderAsc {
		dir = "ASC"
	}
	return fmt.Sprintf("%s %s, col.id %s", col, dir, dir)
}

// FindByCreator はキュレーターが作成したコレクションを返す。
// SearchTextが指定された場合は名前または説明の大文字小文字を区別しない部分一致で絞り込む。
func (r *PostgresCollectionQueryRepo) FindByCreator(ctx context.Context, curatorID model.CuratorID, opts query.CollectionOptions) (query.Result[CollectionView], error) {
	where := `col.author_id = $1`
	args := []any{curatorID.String()}
	if opts.HasSearch() {
		where += ` AND (col.name ILIKE $2 OR col.description ILIKE $2)`
		args = append(args, likePattern(query.NormalizeSearch(opts.SearchText)))
	}
	result, err := r.findViews(ctx, where, args, opts)
	if err != nil {
		return query.Result[CollectionView]{}, fmt.Errorf("作成者のコレクション一覧の取得に失敗しました: %w", err)
	}
	return result, nil
}

// GetCollectionsWithURL は指定URLのURLカードを含むコレクションを重複なしで返す。
func (r *PostgresCollectionQueryRepo) GetCollectionsWithURL(ctx context.Context, url model.URL, opts query.CollectionOptions) (query.Result[CollectionView], error) {
	where := `EXISTS (
		SELECT 1 FROM collection_cards cc
		JOIN cards c ON c.id = cc.card_id
		WHERE cc.collection_id = col.id AND c.type = 'URL' AND c.url = $1)`
	args := []any{url.String()}
	if opts.HasSearch() {
		where += ` AND (col.name ILIKE $2 OR col.description ILIKE $2)`
		args = append(args, likePattern(query.NormalizeSearch(opts.SearchText)))
	}
	result, err := r.findViews(ctx, where, args, opts)
	if err != nil {
		return query.Result[CollectionView]{}, fmt.Errorf("URLを含むコレクション一覧の取得に失敗しました: %w", err)
	}
	return result, nil
}

func (r *PostgresCollectionQueryRepo) findViews(ctx context.Context, where string, args []any, opts query.CollectionOptions) (query.Result[CollectionView], error) {
	conn := database.Conn(ctx, r.db)

	var total int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM collections col WHERE `+where, args...).Scan(&total); err != nil {
		return query.Result[CollectionView]{}, err
	}

	limitArg := len(args) + 1
	q := fmt.Sprintf("%s WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d",
		selectCollectionViewColumns, where, collectionOrderBy(opts), limitArg, limitArg+1)
	views, err := scanCollectionViews(ctx, conn, q, append(args, opts.Limit, opts.Offset())...)
	if err != nil {
		return query.Result[CollectionView]{}, err
	}
	return query.NewResult(views, total, opts.Pagination), nil
}

// GetCollectionsContainingCardForUser はキュレーターが作成し、指定カードを含むコレクションを名前順で返す。
func (r *PostgresCollectionQueryRepo) GetCollectionsContainingCardForUser(ctx context.Context, cardID model.CardID, curatorID model.CuratorID) ([]CollectionView, error) {
	views, err := scanCollectionViews(ctx, database.Conn(ctx, r.db),
		selectCollectionViewColumns+`
		 WHERE col.author_id = $1
		   AND EXISTS (SELECT 1 FROM collection_cards cc WHERE cc.collection_id = col.id AND cc.card_id = $2)
		 ORDER BY lower(col.name) ASC, col.id ASC`,
		curatorID.String(), cardID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("カードを含むコレクションの取得に失敗しました: %w", err)
	}
	return views, nil
}

func scanCollectionViews(ctx context.Context, conn database.Querier, q string, args ...any) ([]CollectionView, error) {
	rows, err := conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	views := []CollectionView{}
	for rows.Next() {
		var id, authorID, accessType string
		var v CollectionView
		if err := rows.Scan(&id, &authorID, &v.Name, &v.Description, &accessType,
			&v.CardCount, &v.URI, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("コレクション行の読み取りに失敗しました: %w", err)
		}
		if v.ID, err = model.ParseCollectionID(id); err != nil {
			return nil, err
		}
		if v.AuthorID, err = model.NewCuratorID(authorID); err != nil {
			return nil, err
		}
		v.AccessType = model.AccessType(accessType)
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return views, nil
}

// FindCollectionIDByURI は公開記録のURIからコレクションIDを引く。見つからない場合はnilを返す。
func (r *PostgresCollectionQueryRepo) FindCollectionIDByURI(ctx context.Context, uri string) (*model.CollectionID, error) {
	var raw string
	err := database.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT col.id FROM collections col
		 JOIN published_records pr ON pr.id = col.published_record_id
		 WHERE pr.uri = $1
		 ORDER BY pr.recorded_at DESC LIMIT 1`,
		uri,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("URIによるコレクションの検索に失敗しました: %w", err)
	}
	id, err := model.ParseCollectionID(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// FindCardIDByURI は公開記録のURIからカードIDを引く。
// カードの元記録とライブラリメンバーシップの記録のどちらに一致してもよい。
func (r *PostgresCollectionQueryRepo) FindCardIDByURI(ctx context.Context, uri string) (*model.CardID, error) {
	var raw string
	err := database.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT card_id FROM (
		     SELECT c.id AS card_id, pr.recorded_at
		     FROM cards c JOIN published_records pr ON pr.id = c.original_published_record_id
		     WHERE pr.uri = $1
		     UNION ALL
		     SELECT lm.card_id, pr.recorded_at
		     FROM library_memberships lm JOIN published_records pr ON pr.id = lm.published_record_id
		     WHERE pr.uri = $1
		 ) AS found
		 ORDER BY recorded_at DESC LIMIT 1`,
		uri,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("URIによるカードの検索に失敗しました: %w", err)
	}
	id, err := model.ParseCardID(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// compile-time interface check
var _ CollectionQueryRepository = (*PostgresCollectionQueryRepo)(nil)
