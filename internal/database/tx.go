package database

import (
	"context"
	"database/sql"
	"fmt"
)

type txKey struct{}

// Querier は*sql.DBと*sql.Txに共通するクエリ実行メソッド。
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ContextWithTx はトランザクションをcontextに格納する。
func ContextWithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext はcontextに格納されたトランザクションを返す。
func TxFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}

// Conn はcontextにトランザクションがあればそれを、なければdbを返す。
func Conn(ctx context.Context, db *sql.DB) Querier {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return db
}

// RunInTx はfnをトランザクション内で実行する。
// contextにトランザクションがあればそれに参加し、なければ新しく開始してfnの成功時にコミットする。
func RunInTx(ctx context.Context, db *sql.DB, fn func(q Querier) error) error {
	if tx, ok := TxFromContext(ctx); ok {
		return fn(tx)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// TxManager はPostgreSQLトランザクションによるユニットオブワーク。
type TxManager struct {
	db *sql.DB
}

// NewTxManager はTxManagerを生成する。
func NewTxManager(db *sql.DB) *TxManager {
	return &TxManager{db: db}
}

// Do はfnを1つのトランザクション内で実行する。
// fnに渡すcontextにはトランザクションが格納され、リポジトリはそれを使って読み書きする。
// すでにトランザクション内で呼ばれた場合は外側のトランザクションに参加する。
func (m *TxManager) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ContextWithTx(ctx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
