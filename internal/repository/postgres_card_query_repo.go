package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/cardshelf/internal/database"
	"github.com/hitoshi/cardshelf/internal/model"
	"github.com/hitoshi/cardshelf/internal/query"
)

// PostgresCardQueryRepo はPostgreSQLを使用したカードの読み取り専用クエリ。
type PostgresCardQueryRepo struct {
	db *sql.DB
}

// NewPostgresCardQueryRepo はPostgresCardQueryRepoを生成する。
func NewPostgresCardQueryRepo(db *sql.DB) *PostgresCardQueryRepo {
	return &PostgresCardQueryRepo{db: db}
}

// cardOrderBy はソート条件からORDER BY句を組み立てる。列名は列挙値からのみ選ぶ。
func cardOrderBy(opts query.CardOptions, tieBreakers ...string) string {
	col := "c.updated_at"
	switch opts.SortBy {
	case query.CardSortCreatedAt:
		col = "c.created_at"
	case query.CardSortLibraryCount:
		col = "c.library_count"
	}
	dir := "DESC"
	if opts.SortOrder == query.SortOrderAsc {
		dir = "ASC"
	}
	clause := fmt.Sprintf("%s %s, c.id %s", col, dir, dir)
	for _, tb := range tieBreakers {
		clause += ", " + tb + " " + dir
	}
	return clause
}

// GetURLCardsOfUser はキュレーターのライブラリにあるURLカードを返す。
func (r *PostgresCardQueryRepo) GetURLCardsOfUser(ctx context.Context, curatorID model.CuratorID, opts query.CardOptions) (query.Result[URLCardView], error) {
	conn := database.Conn(ctx, r.db)

	var total int
	err := conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cards c
		 JOIN library_memberships lm ON lm.card_id = c.id
		 WHERE lm.user_id = $1 AND c.type = 'URL'`,
		curatorID.String(),
	).Scan(&total)
	if err != nil {
		return query.Result[URLCardView]{}, fmt.Errorf("ライブラリのカード数の取得に失敗しました: %w", err)
	}

	views, err := r.scanURLCardViews(ctx, conn,
		`SELECT c.id, c.author_id, c.content_data, c.url, c.library_count, c.created_at, c.updated_at,
		        COALESCE(mpr.uri, opr.uri, '')
		 FROM cards c
		 JOIN library_memberships lm ON lm.card_id = c.id
		 LEFT JOIN published_records mpr ON mpr.id = lm.published_record_id
		 LEFT JOIN published_records opr ON opr.id = c.original_published_record_id
		 WHERE lm.user_id = $1 AND c.type = 'URL'
		 ORDER BY `+cardOrderBy(opts)+`
		 LIMIT $2 OFFSET $3`,
		curatorID.String(), opts.Limit, opts.Offset(),
	)
	if err != nil {
		return query.Result[URLCardView]{}, fmt.Errorf("ライブラリのカード一覧の取得に失敗しました: %w", err)
	}

	if err := r.attachNotes(ctx, conn, views, func(URLCardView) model.CuratorID { return curatorID }); err != nil {
		return query.Result[URLCardView]{}, err
	}
	if err := r.attachCollections(ctx, conn, views); err != nil {
		return query.Result[URLCardView]{}, err
	}

	return query.NewResult(views, total, opts.Pagination), nil
}

// GetCardsInCollection はコレクション内のURLカードを返す。メモはコレクション作成者のもののみ付与する。
func (r *PostgresCardQueryRepo) GetCardsInCollection(ctx context.Context, collectionID model.CollectionID, opts query.CardOptions) (query.Result[URLCardView], error) {
	conn := database.Conn(ctx, r.db)

	var rawAuthor string
	err := conn.QueryRowContext(ctx, `SELECT author_id FROM collections WHERE id = $1`, collectionID.String()).Scan(&rawAuthor)
	if err == sql.ErrNoRows {
		return query.NewResult[URLCardView](nil, 0, opts.Pagination), nil
	}
	if err != nil {
		return query.Result[URLCardView]{}, fmt.Errorf("コレクション作成者の取得に失敗しました: %w", err)
	}
	authorID, err := model.NewCuratorID(rawAuthor)
	if err != nil {
		return query.Result[URLCardView]{}, err
	}

	var total int
	err = conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM collection_cards cc
		 JOIN cards c ON c.id = cc.card_id
		 WHERE cc.collection_id = $1 AND c.type = 'URL'`,
		collectionID.String(),
	).Scan(&total)
	if err != nil {
		return query.Result[URLCardView]{}, fmt.Errorf("コレクションのカード数の取得に失敗しました: %w", err)
	}

	views, err := r.scanURLCardViews(ctx, conn,
		`SELECT c.id, c.author_id, c.content_data, c.url, c.library_count, c.created_at, c.updated_at,
		        COALESCE(opr.uri, '')
		 FROM collection_cards cc
		 JOIN cards c ON c.id = cc.card_id
		 LEFT JOIN published_records opr ON opr.id = c.original_published_record_id
		 WHERE cc.collection_id = $1 AND c.type = 'URL'
		 ORDER BY `+cardOrderBy(opts)+`
		 LIMIT $2 OFFSET $3`,
		collectionID.String(), opts.Limit, opts.Offset(),
	)
	if err != nil {
		return query.Result[URLCardView]{}, fmt.Errorf("コレクションのカード一覧の取得に失敗しました: %w", err)
	}

	if err := r.attachNotes(ctx, conn, views, func(URLCardView) model.CuratorID { return authorID }); err != nil {
		return query.Result[URLCardView]{}, err
	}

	return query.NewResult(views, total, opts.Pagination), nil
}

// GetURLCardView はURLカード1件をコレクション情報付きで返す。見つからない場合はnilを返す。
func (r *PostgresCardQueryRepo) GetURLCardView(ctx context.Context, cardID model.CardID) (*URLCardView, error) {
	conn := database.Conn(ctx, r.db)

	views, err := r.scanURLCardViews(ctx, conn,
		`SELECT c.id, c.author_id, c.content_data, c.url, c.library_count, c.created_at, c.updated_at,
		        COALESCE(opr.uri, '')
		 FROM cards c
		 LEFT JOIN published_records opr ON opr.id = c.original_published_record_id
		 WHERE c.id = $1 AND c.type = 'URL'`,
		cardID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("カードの取得に失敗しました: %w", err)
	}
	if len(views) == 0 {
		return nil, nil
	}
	if err := r.attachCollections(ctx, conn, views); err != nil {
		return nil, err
	}
	return &views[0], nil
}

func (r *PostgresCardQueryRepo) scanURLCardViews(ctx context.Context, conn database.Querier, q string, args ...any) ([]URLCardView, error) {
	rows, err := conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	views := []URLCardView{}
	for rows.Next() {
		var (
			id, authorID string
			contentRaw   []byte
			url          sql.NullString
			v            URLCardView
		)
		if err := rows.Scan(&id, &authorID, &contentRaw, &url, &v.LibraryCount, &v.CreatedAt, &v.UpdatedAt, &v.URI); err != nil {
			return nil, fmt.Errorf("カード行の読み取りに失敗しました: %w", err)
		}
		if v.ID, err = model.ParseCardID(id); err != nil {
			return nil, err
		}
		if v.AuthorID, err = model.NewCuratorID(authorID); err != nil {
			return nil, err
		}
		content, err := decodeContent(model.CardTypeURL, contentRaw)
		if err != nil {
			return nil, err
		}
		uc := content.(model.URLContent)
		v.URL = uc.URL().String()
		if url.Valid {
			v.URL = url.String
		}
		v.Metadata = uc.Metadata()
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("カード一覧の走査に失敗しました: %w", err)
	}
	return views, nil
}

// attachNotes は各URLカードに、noteAuthorが返すキュレーターが書いたメモを1件付与する。
// NOTEをHIGHLIGHTより優先し、同じ種別なら作成日時が古いものを選ぶ。
func (r *PostgresCardQueryRepo) attachNotes(ctx context.Context, conn database.Querier, views []URLCardView, noteAuthor func(URLCardView) model.CuratorID) error {
	if len(views) == 0 {
		return nil
	}
	parentIDs := make([]string, len(views))
	authorIDs := make([]string, len(views))
	for i, v := range views {
		parentIDs[i] = v.ID.String()
		authorIDs[i] = noteAuthor(v).String()
	}

	rows, err := conn.QueryContext(ctx,
		`SELECT n.id, n.author_id, n.type, n.content_data, n.parent_card_id, n.created_at, n.updated_at
		 FROM cards n
		 JOIN unnest($1::uuid[], $2::text[]) AS want(parent_id, author_id)
		   ON n.parent_card_id = want.parent_id AND n.author_id = want.author_id
		 WHERE n.type IN ('NOTE', 'HIGHLIGHT')
		 ORDER BY (n.type = 'NOTE') DESC, n.created_at ASC, n.id ASC`,
		pq.Array(parentIDs), pq.Array(authorIDs),
	)
	if err != nil {
		return fmt.Errorf("メモの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	notes := make(map[string]*NoteView)
	for rows.Next() {
		var (
			id, authorID, cardType, parentID string
			contentRaw                       []byte
			createdAt, updatedAt             time.Time
		)
		if err := rows.Scan(&id, &authorID, &cardType, &contentRaw, &parentID, &createdAt, &updatedAt); err != nil {
			return fmt.Errorf("メモ行の読み取りに失敗しました: %w", err)
		}
		if _, seen := notes[parentID]; seen {
			continue
		}
		note, err := buildNoteView(id, authorID, cardType, contentRaw, createdAt, updatedAt)
		if err != nil {
			return err
		}
		notes[parentID] = note
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("メモ一覧の走査に失敗しました: %w", err)
	}

	for i := range views {
		views[i].Note = notes[views[i].ID.String()]
	}
	return nil
}

func buildNoteView(id, authorID, cardType string, contentRaw []byte, createdAt, updatedAt time.Time) (*NoteView, error) {
	noteID, err := model.ParseCardID(id)
	if err != nil {
		return nil, err
	}
	author, err := model.NewCuratorID(authorID)
	if err != nil {
		return nil, err
	}
	t, err := model.ParseCardType(cardType)
	if err != nil {
		return nil, err
	}
	content, err := decodeContent(t, contentRaw)
	if err != nil {
		return nil, err
	}
	return &NoteView{
		ID:        noteID,
		AuthorID:  author,
		Text:      contentText(content),
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

// contentText はメモ・ハイライトの本文を返す。
func contentText(content model.CardContent) string {
	switch c := content.(type) {
	case model.NoteContent:
		return c.Text()
	case model.HighlightContent:
		return c.Text()
	default:
		return ""
	}
}

// attachCollections は各URLカードを含むコレクションを名前順で付与する。
func (r *PostgresCardQueryRepo) attachCollections(ctx context.Context, conn database.Querier, views []URLCardView) error {
	if len(views) == 0 {
		return nil
	}
	ids := make([]string, len(views))
	for i, v := range views {
		ids[i] = v.ID.String()
	}

	rows, err := conn.QueryContext(ctx,
		`SELECT cc.card_id, col.id, col.name, col.author_id, COALESCE(pr.uri, '')
		 FROM collection_cards cc
		 JOIN collections col ON col.id = cc.collection_id
		 LEFT JOIN published_records pr ON pr.id = col.published_record_id
		 WHERE cc.card_id = ANY($1)
		 ORDER BY lower(col.name) ASC, col.id ASC`,
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("カードを含むコレクションの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	byCard := make(map[string][]CollectionSummary)
	for rows.Next() {
		var cardID, collectionID, authorID string
		var s CollectionSummary
		if err := rows.Scan(&cardID, &collectionID, &s.Name, &authorID, &s.URI); err != nil {
			return fmt.Errorf("コレクション行の読み取りに失敗しました: %w", err)
		}
		if s.ID, err = model.ParseCollectionID(collectionID); err != nil {
			return err
		}
		if s.AuthorID, err = model.NewCuratorID(authorID); err != nil {
			return err
		}
		byCard[cardID] = append(byCard[cardID], s)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("コレクション一覧の走査に失敗しました: %w", err)
	}

	for i := range views {
		views[i].Collections = byCard[views[i].ID.String()]
		if views[i].Collections == nil {
			views[i].Collections = []CollectionSummary{}
		}
	}
	return nil
}

// GetLibrariesForCard はカードをライブラリに追加している全キュレーターを追加日時順で返す。
func (r *PostgresCardQueryRepo) GetLibrariesForCard(ctx context.Context, cardID model.CardID) ([]LibraryEntry, error) {
	entries, err := scanLibraryEntries(ctx, database.Conn(ctx, r.db),
		`SELECT lm.user_id, c.id, c.author_id, COALESCE(c.url, ''), lm.added_at, COALESCE(pr.uri, '')
		 FROM library_memberships lm
		 JOIN cards c ON c.id = lm.card_id
		 LEFT JOIN published_records pr ON pr.id = lm.published_record_id
		 WHERE lm.card_id = $1
		 ORDER BY lm.added_at ASC, lm.user_id ASC`,
		cardID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("カードのライブラリ一覧の取得に失敗しました: %w", err)
	}
	return entries, nil
}

// GetLibrariesForURL は同じURLを持つURLカードのライブラリを (キュレーター, カード) 単位で返す。
// NOTE/HIGHLIGHTカードは同じURLを持っていても含めない。
func (r *PostgresCardQueryRepo) GetLibrariesForURL(ctx context.Context, url model.URL, opts query.CardOptions) (query.Result[LibraryEntry], error) {
	conn := database.Conn(ctx, r.db)

	var total int
	err := conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM library_memberships lm
		 JOIN cards c ON c.id = lm.card_id
		 WHERE c.type = 'URL' AND c.url = $1`,
		url.String(),
	).Scan(&total)
	if err != nil {
		return query.Result[LibraryEntry]{}, fmt.Errorf("URLのライブラリ数の取得に失敗しました: %w", err)
	}

	entries, err := scanLibraryEntries(ctx, conn,
		`SELECT lm.user_id, c.id, c.author_id, COALESCE(c.url, ''), lm.added_at, COALESCE(pr.uri, '')
		 FROM library_memberships lm
		 JOIN cards c ON c.id = lm.card_id
		 LEFT JOIN published_records pr ON pr.id = lm.published_record_id
		 WHERE c.type = 'URL' AND c.url = $1
		 ORDER BY `+cardOrderBy(opts, "lm.user_id")+`
		 LIMIT $2 OFFSET $3`,
		url.String(), opts.Limit, opts.Offset(),
	)
	if err != nil {
		return query.Result[LibraryEntry]{}, fmt.Errorf("URLのライブラリ一覧の取得に失敗しました: %w", err)
	}
	return query.NewResult(entries, total, opts.Pagination), nil
}

func scanLibraryEntries(ctx context.Context, conn database.Querier, q string, args ...any) ([]LibraryEntry, error) {
	rows, err := conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []LibraryEntry{}
	for rows.Next() {
		var userID, cardID, authorID string
		var e LibraryEntry
		if err := rows.Scan(&userID, &cardID, &authorID, &e.URL, &e.AddedAt, &e.URI); err != nil {
			return nil, fmt.Errorf("ライブラリ行の読み取りに失敗しました: %w", err)
		}
		if e.CuratorID, err = model.NewCuratorID(userID); err != nil {
			return nil, err
		}
		if e.CardID, err = model.ParseCardID(cardID); err != nil {
			return nil, err
		}
		if e.CardAuthorID, err = model.NewCuratorID(authorID); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetNoteCardsForURL はURLに一致する全キュレーターのNOTEカードを返す。
func (r *PostgresCardQueryRepo) GetNoteCardsForURL(ctx context.Context, url model.URL, opts query.CardOptions) (query.Result[NoteCardView], error) {
	conn := database.Conn(ctx, r.db)

	var total int
	err := conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cards c WHERE c.type = 'NOTE' AND c.url = $1`,
		url.String(),
	).Scan(&total)
	if err != nil {
		return query.Result[NoteCardView]{}, fmt.Errorf("URLのメモ数の取得に失敗しました: %w", err)
	}

	rows, err := conn.QueryContext(ctx,
		`SELECT c.id, c.author_id, c.content_data, COALESCE(c.url, ''), c.parent_card_id,
		        c.library_count, COALESCE(opr.uri, ''), c.created_at, c.updated_at
		 FROM cards c
		 LEFT JOIN published_records opr ON opr.id = c.original_published_record_id
		 WHERE c.type = 'NOTE' AND c.url = $1
		 ORDER BY `+cardOrderBy(opts)+`
		 LIMIT $2 OFFSET $3`,
		url.String(), opts.Limit, opts.Offset(),
	)
	if err != nil {
		return query.Result[NoteCardView]{}, fmt.Errorf("URLのメモ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	notes := []NoteCardView{}
	for rows.Next() {
		var (
			id, authorID string
			contentRaw   []byte
			parentID     sql.NullString
			v            NoteCardView
		)
		if err := rows.Scan(&id, &authorID, &contentRaw, &v.URL, &parentID, &v.LibraryCount, &v.URI, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return query.Result[NoteCardView]{}, fmt.Errorf("メモ行の読み取りに失敗しました: %w", err)
		}
		if v.ID, err = model.ParseCardID(id); err != nil {
			return query.Result[NoteCardView]{}, err
		}
		if v.AuthorID, err = model.NewCuratorID(authorID); err != nil {
			return query.Result[NoteCardView]{}, err
		}
		content, err := decodeContent(model.CardTypeNote, contentRaw)
		if err != nil {
			return query.Result[NoteCardView]{}, err
		}
		note := content.(model.NoteContent)
		v.Text = note.Text()
		v.Title = note.Title()
		if parentID.Valid {
			parent, err := model.ParseCardID(parentID.String)
			if err != nil {
				return query.Result[NoteCardView]{}, err
			}
			v.ParentCardID = &parent
		}
		notes = append(notes, v)
	}
	if err := rows.Err(); err != nil {
		return query.Result[NoteCardView]{}, fmt.Errorf("メモ一覧の走査に失敗しました: %w", err)
	}

	return query.NewResult(notes, total, opts.Pagination), nil
}

// compile-time interface check
var _ CardQueryRepository = (*PostgresCardQueryRepo)(nil)
