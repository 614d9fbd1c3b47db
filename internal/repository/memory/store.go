// Package memory はリポジトリインターフェースのインメモリ実装を提供する。
// サービス層のテストとデータベースなしでのローカル起動に使う。
package memory

import (
	"context"
	"sync"

	"github.com/hitoshi/cardshelf/internal/model"
)

// Store は全リポジトリが共有するインメモリのデータ領域。
// 保存される集約は常に複製で、呼び出し元が保持するポインタとは共有しない。
type Store struct {
	mu          sync.RWMutex
	cards       map[string]*model.Card
	collections map[string]*model.Collection
	records     map[string]*model.PublishedRecord
	recordKeys  map[string]string

	// txMu は作業単位と単発の書き込みを直列化する。
	txMu sync.Mutex
}

// NewStore は空のStoreを生成する。
func NewStore() *Store {
	return &Store{
		cards:       make(map[string]*model.Card),
		collections: make(map[string]*model.Collection),
		records:     make(map[string]*model.PublishedRecord),
		recordKeys:  make(map[string]string),
	}
}

type txKey struct{}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

// write はデータ領域を書き込みロックしてfnを実行する。
// 作業単位の外から呼ばれた場合はtxMuも取得し、進行中の作業単位と混ざらないようにする。
func (s *Store) write(ctx context.Context, fn func() error) error {
	if !inTx(ctx) {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

func (s *Store) read(fn func()) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn()
}

type snapshot struct {
	cards       map[string]*model.Card
	collections map[string]*model.Collection
	records     map[string]*model.PublishedRecord
	recordKeys  map[string]string
}

func copyMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// 保存済みの値は置き換えのみで書き換えないため、マップの浅いコピーで復元できる。
func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot{
		cards:       copyMap(s.cards),
		collections: copyMap(s.collections),
		records:     copyMap(s.records),
		recordKeys:  copyMap(s.recordKeys),
	}
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards = snap.cards
	s.collections = snap.collections
	s.records = snap.records
	s.recordKeys = snap.recordKeys
}

// UnitOfWork はStoreに対する作業単位。fnが失敗した場合は開始時点の状態に戻す。
type UnitOfWork struct {
	store *Store
}

// NewUnitOfWork はUnitOfWorkを生成する。
func NewUnitOfWork(store *Store) *UnitOfWork {
	return &UnitOfWork{store: store}
}

// Do はfnを1つの作業単位として実行する。入れ子の呼び出しは外側の作業単位に参加する。
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}

	u.store.txMu.Lock()
	defer u.store.txMu.Unlock()

	snap := u.store.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		u.store.restore(snap)
		return err
	}
	return nil
}
