package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/cardshelf/internal/database"
	"github.com/hitoshi/cardshelf/internal/model"
)

// PostgresPublishedRecordRepo はPostgreSQLを使用した公開記録リポジトリ。
type PostgresPublishedRecordRepo struct {
	db *sql.DB
}

// NewPostgresPublishedRecordRepo はPostgresPublishedRecordRepoを生成する。
func NewPostgresPublishedRecordRepo(db *sql.DB) *PostgresPublishedRecordRepo {
	return &PostgresPublishedRecordRepo{db: db}
}

// Upsert は (uri, cid) で公開記録を冪等に保存する。
// UNIQUE(uri, cid)制約を利用したINSERT ON CONFLICT DO NOTHINGで挿入し、
// 挿入件数が0の場合は競合に勝った既存の行を読み直して返す。
func (r *PostgresPublishedRecordRepo) Upsert(ctx context.Context, ref model.PublishedRecordRef) (*model.PublishedRecord, bool, error) {
	conn := database.Conn(ctx, r.db)
	record := model.NewPublishedRecord(ref, time.Now().UTC())

	res, err := conn.ExecContext(ctx,
		`INSERT INTO published_records (id, uri, cid, recorded_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (uri, cid) DO NOTHING`,
		record.ID.String(), ref.URI(), ref.CID(), record.RecordedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("公開記録の作成に失敗しました: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("公開記録の作成件数の取得に失敗しました: %w", err)
	}
	if affected == 1 {
		return record, true, nil
	}

	existing, err := r.findByRef(ctx, conn, ref)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("公開記録 (%s, %s) の読み直しに失敗しました", ref.URI(), ref.CID())
	}
	return existing, false, nil
}

func (r *PostgresPublishedRecordRepo) findByRef(ctx context.Context, conn database.Querier, ref model.PublishedRecordRef) (*model.PublishedRecord, error) {
	return scanPublishedRecordRow(conn.QueryRowContext(ctx,
		`SELECT id, uri, cid, recorded_at FROM published_records WHERE uri = $1 AND cid = $2`,
		ref.URI(), ref.CID(),
	))
}

// FindByURI はURIに一致する最新の公開記録を取得する。見つからない場合はnilを返す。
func (r *PostgresPublishedRecordRepo) FindByURI(ctx context.Context, uri string) (*model.PublishedRecord, error) {
	return scanPublishedRecordRow(database.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT id, uri, cid, recorded_at FROM published_records
		 WHERE uri = $1 ORDER BY recorded_at DESC LIMIT 1`,
		uri,
	))
}

func scanPublishedRecordRow(row *sql.Row) (*model.PublishedRecord, error) {
	var record nullPublishedRecord
	err := row.Scan(&record.ID, &record.URI, &record.CID, &record.RecordedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("公開記録の取得に失敗しました: %w", err)
	}
	return record.toModel()
}

// DeleteOrphansOlderThan はカード・メンバーシップ・コレクション・カードリンクのいずれからも
// 参照されていない公開記録のうち、beforeより前に記録されたものを削除する。
func (r *PostgresPublishedRecordRepo) DeleteOrphansOlderThan(ctx context.Context, before time.Time) (int64, error) {
	res, err := database.Conn(ctx, r.db).ExecContext(ctx,
		`DELETE FROM published_records pr
		 WHERE pr.recorded_at < $1
		   AND NOT EXISTS (SELECT 1 FROM cards c WHERE c.original_published_record_id = pr.id)
		   AND NOT EXISTS (SELECT 1 FROM library_memberships lm WHERE lm.published_record_id = pr.id)
		   AND NOT EXISTS (SELECT 1 FROM collections col WHERE col.published_record_id = pr.id)
		   AND NOT EXISTS (SELECT 1 FROM collection_cards cc WHERE cc.published_record_id = pr.id)`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("未参照の公開記録の削除に失敗しました: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ PublishedRecordRepository = (*PostgresPublishedRecordRepo)(nil)
