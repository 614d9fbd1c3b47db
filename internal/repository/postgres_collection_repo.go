package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/cardshelf/internal/database"
	"github.com/hitoshi/cardshelf/internal/model"
)

// PostgresCollectionRepo はPostgreSQLを使用したコレクションリポジトリ。
type PostgresCollectionRepo struct {
	db *sql.DB
}

// NewPostgresCollectionRepo はPostgresCollectionRepoを生成する。
func NewPostgresCollectionRepo(db *sql.DB) *PostgresCollectionRepo {
	return &PostgresCollectionRepo{db: db}
}

const selectCollectionColumns = `
	SELECT col.id, col.author_id, col.name, col.description, col.access_type,
	       col.version, col.created_at, col.updated_at,
	       pr.id, pr.uri, pr.cid, pr.recorded_at
	FROM collections col
	LEFT JOIN published_records pr ON pr.id = col.published_record_id`

// FindByID は指定IDのコレクションを取得する。見つからない場合はnilを返す。
func (r *PostgresCollectionRepo) FindByID(ctx context.Context, id model.CollectionID) (*model.Collection, error) {
	collections, err := r.findCollections(ctx, selectCollectionColumns+` WHERE col.id = $1`, id.String())
	if err != nil {
		return nil, fmt.Errorf("コレクションの取得に失敗しました: %w", err)
	}
	if len(collections) == 0 {
		return nil, nil
	}
	return collections[0], nil
}

// FindByIDs は指定IDのコレクションをまとめて取得する。
func (r *PostgresCollectionRepo) FindByIDs(ctx context.Context, ids []model.CollectionID) ([]*model.Collection, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}
	collections, err := r.findCollections(ctx,
		selectCollectionColumns+` WHERE col.id = ANY($1) ORDER BY col.created_at ASC`,
		pq.Array(raw),
	)
	if err != nil {
		return nil, fmt.Errorf("コレクション一覧の取得に失敗しました: %w", err)
	}
	return collections, nil
}

// FindByCardID は指定カードを含むコレクションを取得する。
func (r *PostgresCollectionRepo) FindByCardID(ctx context.Context, cardID model.CardID) ([]*model.Collection, error) {
	collections, err := r.findCollections(ctx,
		selectCollectionColumns+` WHERE col.id IN (SELECT collection_id FROM collection_cards WHERE card_id = $1)
		 ORDER BY col.created_at ASC`,
		cardID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("カードを含むコレクションの取得に失敗しました: %w", err)
	}
	return collections, nil
}

// FindByAuthorAndCard はキュレーターが作成し、指定カードを含むコレクションを取得する。
func (r *PostgresCollectionRepo) FindByAuthorAndCard(ctx context.Context, authorID model.CuratorID, cardID model.CardID) ([]*model.Collection, error) {
	collections, err := r.findCollections(ctx,
		selectCollectionColumns+` WHERE col.author_id = $1
		   AND col.id IN (SELECT collection_id FROM collection_cards WHERE card_id = $2)
		 ORDER BY col.created_at ASC`,
		authorID.String(), cardID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("作成者とカードによるコレクションの取得に失敗しました: %w", err)
	}
	return collections, nil
}

func (r *PostgresCollectionRepo) findCollections(ctx context.Context, q string, args ...any) ([]*model.Collection, error) {
	conn := database.Conn(ctx, r.db)

	rows, err := conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var params []model.CollectionParams
	var ids []string
	for rows.Next() {
		var (
			id, authorID, accessType string
			record                   nullPublishedRecord
			p                        model.CollectionParams
		)
		if err := rows.Scan(
			&id, &authorID, &p.Name, &p.Description, &accessType,
			&p.Version, &p.CreatedAt, &p.UpdatedAt,
			&record.ID, &record.URI, &record.CID, &record.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("コレクション行の読み取りに失敗しました: %w", err)
		}
		if p.ID, err = model.ParseCollectionID(id); err != nil {
			return nil, err
		}
		if p.AuthorID, err = model.NewCuratorID(authorID); err != nil {
			return nil, err
		}
		p.AccessType = model.AccessType(accessType)
		if p.PublishedRecord, err = record.toModel(); err != nil {
			return nil, err
		}
		params = append(params, p)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(params) == 0 {
		return nil, nil
	}

	collaborators, err := r.loadCollaborators(ctx, conn, ids)
	if err != nil {
		return nil, err
	}
	links, err := r.loadCardLinks(ctx, conn, ids)
	if err != nil {
		return nil, err
	}

	collections := make([]*model.Collection, 0, len(params))
	for _, p := range params {
		p.CollaboratorIDs = collaborators[p.ID.String()]
		p.CardLinks = links[p.ID.String()]
		c, err := model.NewCollection(p)
		if err != nil {
			return nil, fmt.Errorf("コレクション %s の復元に失敗しました: %w", p.ID, err)
		}
		collections = append(collections, c)
	}
	return collections, nil
}

func (r *PostgresCollectionRepo) loadCollaborators(ctx context.Context, conn database.Querier, ids []string) (map[string][]model.CuratorID, error) {
	rows, err := conn.QueryContext(ctx,
		`SELECT collection_id, collaborator_id FROM collection_collaborators
		 WHERE collection_id = ANY($1) ORDER BY collaborator_id ASC`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("共同編集者の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]model.CuratorID)
	for rows.Next() {
		var collectionID, collaboratorID string
		if err := rows.Scan(&collectionID, &collaboratorID); err != nil {
			return nil, fmt.Errorf("共同編集者行の読み取りに失敗しました: %w", err)
		}
		id, err := model.NewCuratorID(collaboratorID)
		if err != nil {
			return nil, err
		}
		result[collectionID] = append(result[collectionID], id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("共同編集者一覧の走査に失敗しました: %w", err)
	}
	return result, nil
}

func (r *PostgresCollectionRepo) loadCardLinks(ctx context.Context, conn database.Querier, ids []string) (map[string][]model.CardLink, error) {
	rows, err := conn.QueryContext(ctx,
		`SELECT cc.collection_id, cc.card_id, cc.added_by, cc.added_at,
		        pr.id, pr.uri, pr.cid, pr.recorded_at
		 FROM collection_cards cc
		 LEFT JOIN published_records pr ON pr.id = cc.published_record_id
		 WHERE cc.collection_id = ANY($1)
		 ORDER BY cc.added_at ASC, cc.card_id ASC`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("カードリンクの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]model.CardLink)
	for rows.Next() {
		var (
			collectionID, cardID, addedBy string
			link                          model.CardLink
			record                        nullPublishedRecord
		)
		if err := rows.Scan(&collectionID, &cardID, &addedBy, &link.AddedAt,
			&record.ID, &record.URI, &record.CID, &record.RecordedAt); err != nil {
			return nil, fmt.Errorf("カードリンク行の読み取りに失敗しました: %w", err)
		}
		if link.CardID, err = model.ParseCardID(cardID); err != nil {
			return nil, err
		}
		if link.AddedBy, err = model.NewCuratorID(addedBy); err != nil {
			return nil, err
		}
		if link.PublishedRecord, err = record.toModel(); err != nil {
			return nil, err
		}
		result[collectionID] = append(result[collectionID], link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("カードリンク一覧の走査に失敗しました: %w", err)
	}
	return result, nil
}

// Save はコレクションを保存し、共同編集者とカードリンクを全件置き換える。
func (r *PostgresCollectionRepo) Save(ctx context.Context, c *model.Collection) error {
	err := database.RunInTx(ctx, r.db, func(q database.Querier) error {
		if c.Version() == 0 {
			_, err := q.ExecContext(ctx,
				`INSERT INTO collections (id, author_id, name, description, access_type,
				     card_count, published_record_id, version, created_at, updated_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $9)`,
				c.ID().String(), c.AuthorID().String(), c.Name(), c.Description(), string(c.AccessType()),
				c.CardCount(), publishedRecordID(c.PublishedRecord()), c.CreatedAt(), c.UpdatedAt(),
			)
			if isUniqueViolation(err) {
				return model.NewConcurrentModificationError("collection", c.ID().String())
			}
			if err != nil {
				return fmt.Errorf("コレクションの作成に失敗しました: %w", err)
			}
		} else {
			res, err := q.ExecContext(ctx,
				`UPDATE collections SET
				     name = $2, description = $3, access_type = $4, card_count = $5,
				     published_record_id = $6, version = version + 1, updated_at = $7
				 WHERE id = $1 AND version = $8`,
				c.ID().String(), c.Name(), c.Description(), string(c.AccessType()), c.CardCount(),
				publishedRecordID(c.PublishedRecord()), c.UpdatedAt(), c.Version(),
			)
			if err != nil {
				return fmt.Errorf("コレクションの更新に失敗しました: %w", err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("コレクション更新件数の取得に失敗しました: %w", err)
			}
			if affected == 0 {
				return model.NewConcurrentModificationError("collection", c.ID().String())
			}
		}

		if _, err := q.ExecContext(ctx, `DELETE FROM collection_collaborators WHERE collection_id = $1`, c.ID().String()); err != nil {
			return fmt.Errorf("共同編集者の削除に失敗しました: %w", err)
		}
		for _, collaborator := range c.CollaboratorIDs() {
			if _, err := q.ExecContext(ctx,
				`INSERT INTO collection_collaborators (collection_id, collaborator_id) VALUES ($1, $2)`,
				c.ID().String(), collaborator.String(),
			); err != nil {
				return fmt.Errorf("共同編集者の作成に失敗しました: %w", err)
			}
		}

		if _, err := q.ExecContext(ctx, `DELETE FROM collection_cards WHERE collection_id = $1`, c.ID().String()); err != nil {
			return fmt.Errorf("カードリンクの削除に失敗しました: %w", err)
		}
		for _, link := range c.CardLinks() {
			if _, err := q.ExecContext(ctx,
				`INSERT INTO collection_cards (collection_id, card_id, added_by, added_at, published_record_id)
				 VALUES ($1, $2, $3, $4, $5)`,
				c.ID().String(), link.CardID.String(), link.AddedBy.String(), link.AddedAt,
				publishedRecordID(link.PublishedRecord),
			); err != nil {
				return fmt.Errorf("カードリンクの作成に失敗しました: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.MarkSaved()
	return nil
}

// Delete は指定IDのコレクションを削除する。
func (r *PostgresCollectionRepo) Delete(ctx context.Context, id model.CollectionID) error {
	_, err := database.Conn(ctx, r.db).ExecContext(ctx, `DELETE FROM collections WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("コレクションの削除に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ CollectionRepository = (*PostgresCollectionRepo)(nil)
