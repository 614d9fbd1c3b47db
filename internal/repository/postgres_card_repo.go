package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/cardshelf/internal/database"
	"github.com/hitoshi/cardshelf/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// PostgresCardRepo はPostgreSQLを使用したカードリポジトリ。
type PostgresCardRepo struct {
	db *sql.DB
}

// NewPostgresCardRepo はPostgresCardRepoを生成する。
func NewPostgresCardRepo(db *sql.DB) *PostgresCardRepo {
	return &PostgresCardRepo{db: db}
}

const selectCardColumns = `
	SELECT c.id, c.author_id, c.type, c.content_data, c.url, c.parent_card_id,
	       c.version, c.created_at, c.updated_at,
	       pr.id, pr.uri, pr.cid, pr.recorded_at
	FROM cards c
	LEFT JOIN published_records pr ON pr.id = c.original_published_record_id`

// FindByID は指定IDのカードを取得する。見つからない場合はnilを返す。
func (r *PostgresCardRepo) FindByID(ctx context.Context, id model.CardID) (*model.Card, error) {
	cards, err := r.findCards(ctx, selectCardColumns+` WHERE c.id = $1`, id.String())
	if err != nil {
		return nil, fmt.Errorf("カードの取得に失敗しました: %w", err)
	}
	if len(cards) == 0 {
		return nil, nil
	}
	return cards[0], nil
}

// FindUsersURLCard はキュレーターが作成した指定URLのURLカードを取得する。見つからない場合はnilを返す。
func (r *PostgresCardRepo) FindUsersURLCard(ctx context.Context, curatorID model.CuratorID, url model.URL) (*model.Card, error) {
	cards, err := r.findCards(ctx,
		selectCardColumns+` WHERE c.author_id = $1 AND c.type = 'URL' AND c.url = $2
		 ORDER BY c.created_at ASC LIMIT 1`,
		curatorID.String(), url.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("URLカードの検索に失敗しました: %w", err)
	}
	if len(cards) == 0 {
		return nil, nil
	}
	return cards[0], nil
}

// FindUsersNoteCard はキュレーターが作成したparentCardIDに紐づくメモカードを取得する。見つからない場合はnilを返す。
func (r *PostgresCardRepo) FindUsersNoteCard(ctx context.Context, curatorID model.CuratorID, parentCardID model.CardID) (*model.Card, error) {
	cards, err := r.findCards(ctx,
		selectCardColumns+` WHERE c.author_id = $1 AND c.type = 'NOTE' AND c.parent_card_id = $2
		 ORDER BY c.created_at ASC LIMIT 1`,
		curatorID.String(), parentCardID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("メモカードの検索に失敗しました: %w", err)
	}
	if len(cards) == 0 {
		return nil, nil
	}
	return cards[0], nil
}

// FindNoteCardsByParent はparentCardIDに紐づくNOTE/HIGHLIGHTカードを作成日時順に取得する。
func (r *PostgresCardRepo) FindNoteCardsByParent(ctx context.Context, parentCardID model.CardID) ([]*model.Card, error) {
	cards, err := r.findCards(ctx,
		selectCardColumns+` WHERE c.parent_card_id = $1 AND c.type IN ('NOTE', 'HIGHLIGHT')
		 ORDER BY c.created_at ASC, c.id ASC`,
		parentCardID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("子カードの取得に失敗しました: %w", err)
	}
	return cards, nil
}

// findCards はカード行を読み取り、メンバーシップをまとめて取得して集約を組み立てる。
func (r *PostgresCardRepo) findCards(ctx context.Context, q string, args ...any) ([]*model.Card, error) {
	conn := database.Conn(ctx, r.db)

	rows, err := conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var params []model.CardParams
	var ids []string
	for rows.Next() {
		p, err := scanCardParams(rows)
		if err != nil {
			return nil, err
		}
		params = append(params, p)
		ids = append(ids, p.ID.String())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(params) == 0 {
		return nil, nil
	}

	memberships, err := r.loadMemberships(ctx, conn, ids)
	if err != nil {
		return nil, err
	}

	cards := make([]*model.Card, 0, len(params))
	for _, p := range params {
		p.LibraryMemberships = memberships[p.ID.String()]
		card, err := model.NewCard(p)
		if err != nil {
			return nil, fmt.Errorf("カード %s の復元に失敗しました: %w", p.ID, err)
		}
		cards = append(cards, card)
	}
	return cards, nil
}

func scanCardParams(rows *sql.Rows) (model.CardParams, error) {
	var (
		id, authorID, cardType string
		contentRaw             []byte
		url, parentID          sql.NullString
		record                 nullPublishedRecord
		p                      model.CardParams
	)
	if err := rows.Scan(
		&id, &authorID, &cardType, &contentRaw, &url, &parentID,
		&p.Version, &p.CreatedAt, &p.UpdatedAt,
		&record.ID, &record.URI, &record.CID, &record.RecordedAt,
	); err != nil {
		return p, fmt.Errorf("カード行の読み取りに失敗しました: %w", err)
	}

	var err error
	if p.ID, err = model.ParseCardID(id); err != nil {
		return p, err
	}
	if p.AuthorID, err = model.NewCuratorID(authorID); err != nil {
		return p, err
	}
	t, err := model.ParseCardType(cardType)
	if err != nil {
		return p, err
	}
	if p.Content, err = decodeContent(t, contentRaw); err != nil {
		return p, err
	}
	if url.Valid {
		u, err := model.NewURL(url.String)
		if err != nil {
			return p, err
		}
		p.URL = &u
	}
	if parentID.Valid {
		parent, err := model.ParseCardID(parentID.String)
		if err != nil {
			return p, err
		}
		p.ParentCardID = &parent
	}
	if p.OriginalPublishedRecord, err = record.toModel(); err != nil {
		return p, err
	}
	return p, nil
}

func (r *PostgresCardRepo) loadMemberships(ctx context.Context, conn database.Querier, cardIDs []string) (map[string][]model.LibraryMembership, error) {
	rows, err := conn.QueryContext(ctx,
		`SELECT lm.card_id, lm.user_id, lm.added_at, pr.id, pr.uri, pr.cid, pr.recorded_at
		 FROM library_memberships lm
		 LEFT JOIN published_records pr ON pr.id = lm.published_record_id
		 WHERE lm.card_id = ANY($1)
		 ORDER BY lm.added_at ASC, lm.user_id ASC`,
		pq.Array(cardIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("ライブラリメンバーシップの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]model.LibraryMembership)
	for rows.Next() {
		var (
			cardID, userID string
			m              model.LibraryMembership
			record         nullPublishedRecord
		)
		if err := rows.Scan(&cardID, &userID, &m.AddedAt, &record.ID, &record.URI, &record.CID, &record.RecordedAt); err != nil {
			return nil, fmt.Errorf("メンバーシップ行の読み取りに失敗しました: %w", err)
		}
		if m.CuratorID, err = model.NewCuratorID(userID); err != nil {
			return nil, err
		}
		if m.PublishedRecord, err = record.toModel(); err != nil {
			return nil, err
		}
		result[cardID] = append(result[cardID], m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("メンバーシップ一覧の走査に失敗しました: %w", err)
	}
	return result, nil
}

// Save はカードを保存し、メンバーシップを全件置き換える。
// 新規カード（Version 0）はINSERT、既存カードはバージョン一致時のみUPDATEする。
func (r *PostgresCardRepo) Save(ctx context.Context, card *model.Card) error {
	content, err := encodeContent(card.Content())
	if err != nil {
		return err
	}

	var url, parentID sql.NullString
	if u := card.URL(); u != nil {
		url = nullString(u.String())
	}
	if p := card.ParentCardID(); p != nil {
		parentID = nullString(p.String())
	}

	err = database.RunInTx(ctx, r.db, func(q database.Querier) error {
		if card.Version() == 0 {
			_, err := q.ExecContext(ctx,
				`INSERT INTO cards (id, author_id, type, content_data, url, parent_card_id,
				     original_published_record_id, library_count, version, created_at, updated_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $10)`,
				card.ID().String(), card.AuthorID().String(), string(card.Type()), content, url, parentID,
				publishedRecordID(card.OriginalPublishedRecord()), card.LibraryCount(),
				card.CreatedAt(), card.UpdatedAt(),
			)
			if isUniqueViolation(err) {
				return model.NewConcurrentModificationError("card", card.ID().String())
			}
			if err != nil {
				return fmt.Errorf("カードの作成に失敗しました: %w", err)
			}
		} else {
			res, err := q.ExecContext(ctx,
				`UPDATE cards SET
				     content_data = $2, url = $3, parent_card_id = $4,
				     original_published_record_id = $5, library_count = $6,
				     version = version + 1, updated_at = $7
				 WHERE id = $1 AND version = $8`,
				card.ID().String(), content, url, parentID,
				publishedRecordID(card.OriginalPublishedRecord()), card.LibraryCount(),
				card.UpdatedAt(), card.Version(),
			)
			if err != nil {
				return fmt.Errorf("カードの更新に失敗しました: %w", err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("カード更新件数の取得に失敗しました: %w", err)
			}
			if affected == 0 {
				return model.NewConcurrentModificationError("card", card.ID().String())
			}
		}

		if _, err := q.ExecContext(ctx, `DELETE FROM library_memberships WHERE card_id = $1`, card.ID().String()); err != nil {
			return fmt.Errorf("ライブラリメンバーシップの削除に失敗しました: %w", err)
		}
		for _, m := range card.LibraryMemberships() {
			if _, err := q.ExecContext(ctx,
				`INSERT INTO library_memberships (card_id, user_id, added_at, published_record_id)
				 VALUES ($1, $2, $3, $4)`,
				card.ID().String(), m.CuratorID.String(), m.AddedAt, publishedRecordID(m.PublishedRecord),
			); err != nil {
				return fmt.Errorf("ライブラリメンバーシップの作成に失敗しました: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	card.MarkSaved()
	return nil
}

// Delete は指定IDのカードを削除する。
func (r *PostgresCardRepo) Delete(ctx context.Context, id model.CardID) error {
	_, err := database.Conn(ctx, r.db).ExecContext(ctx, `DELETE FROM cards WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("カードの削除に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ CardRepository = (*PostgresCardRepo)(nil)
