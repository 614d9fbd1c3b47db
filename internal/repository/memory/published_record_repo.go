package memory

import (
	"context"
	"time"

	"github.com/hitoshi/cardshelf/internal/model"
	"github.com/hitoshi/cardshelf/internal/repository"
)

// PublishedRecordRepo はインメモリの公開記録リポジトリ。
type PublishedRecordRepo struct {
	store *Store
	now   func() time.Time
}

// NewPublishedRecordRepo はPublishedRecordRepoを生成する。
func NewPublishedRecordRepo(store *Store) *PublishedRecordRepo {
	return &PublishedRecordRepo{store: store, now: func() time.Time { return time.Now().UTC() }}
}

func recordKey(ref model.PublishedRecordRef) string {
	return ref.URI() + "\x00" + ref.CID()
}

// Upsert は (uri, cid) が同じ記録をまとめる。同時に呼ばれても1件だけが作成される。
func (r *PublishedRecordRepo) Upsert(ctx context.Context, ref model.PublishedRecordRef) (*model.PublishedRecord, bool, error) {
	var (
		result  *model.PublishedRecord
		created bool
	)
	err := r.store.write(ctx, func() error {
		if id, ok := r.store.recordKeys[recordKey(ref)]; ok {
			existing := *r.store.records[id]
			result = &existing
			return nil
		}
		record := model.NewPublishedRecord(ref, r.now())
		r.store.records[record.ID.String()] = record
		r.store.recordKeys[recordKey(ref)] = record.ID.String()
		copied := *record
		result, created = &copied, true
		return nil
	})
	return result, created, err
}

// FindByURI はURIで公開記録を取得する。
func (r *PublishedRecordRepo) FindByURI(_ context.Context, uri string) (*model.PublishedRecord, error) {
	var latest *model.PublishedRecord
	r.store.read(func() {
		for _, rec := range r.store.records {
			if rec.Ref.URI() != uri {
				continue
			}
			if latest == nil || rec.RecordedAt.After(latest.RecordedAt) {
				copied := *rec
				latest = &copied
			}
		}
	})
	return latest, nil
}

// DeleteOrphansOlderThan はどの集約からも参照されていない古い公開記録を削除する。
func (r *PublishedRecordRepo) DeleteOrphansOlderThan(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := r.store.write(ctx, func() error {
		referenced := r.store.referencedRecordIDs()
		for id, rec := range r.store.records {
			if referenced[id] || !rec.RecordedAt.Before(before) {
				continue
			}
			delete(r.store.records, id)
			delete(r.store.recordKeys, recordKey(rec.Ref))
			deleted++
		}
		return nil
	})
	return deleted, err
}

// referencedRecordIDs は呼び出し元がロックを保持している前提で参照中の記録IDを集める。
func (s *Store) referencedRecordIDs() map[string]bool {
	ids := make(map[string]bool)
	mark := func(rec *model.PublishedRecord) {
		if rec != nil {
			ids[rec.ID.String()] = true
		}
	}
	for _, c := range s.cards {
		mark(c.OriginalPublishedRecord())
		for _, m := range c.LibraryMemberships() {
			mark(m.PublishedRecord)
		}
	}
	for _, col := range s.collections {
		mark(col.PublishedRecord())
		for _, l := range col.CardLinks() {
			mark(l.PublishedRecord)
		}
	}
	return ids
}

// compile-time interface check
var _ repository.PublishedRecordRepository = (*PublishedRecordRepo)(nil)
