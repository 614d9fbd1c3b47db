// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
// Errには原因となった下位エラー（DBエラーなど）を保持し、ログ出力に使う。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, access, not_found, conflict, system
	Action   string // ユーザー向け対処方法
	Err      error
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は下位エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// エラーカテゴリ
const (
	CategoryValidation = "validation"
	CategoryAccess     = "access"
	CategoryNotFound   = "not_found"
	CategoryConflict   = "conflict"
	CategorySystem     = "system"
)

// 定義済みエラーコード
const (
	ErrCodeInvalidCuratorID       = "INVALID_CURATOR_ID"
	ErrCodeInvalidCardID          = "INVALID_CARD_ID"
	ErrCodeInvalidCollectionID    = "INVALID_COLLECTION_ID"
	ErrCodeInvalidURL             = "INVALID_URL"
	ErrCodeInvalidCardContent     = "INVALID_CARD_CONTENT"
	ErrCodeInvalidCardType        = "INVALID_CARD_TYPE"
	ErrCodeInvalidCollectionName  = "INVALID_COLLECTION_NAME"
	ErrCodeInvalidDescription     = "INVALID_COLLECTION_DESCRIPTION"
	ErrCodeInvalidAccessType      = "INVALID_ACCESS_TYPE"
	ErrCodeInvalidPublishedRecord = "INVALID_PUBLISHED_RECORD"
	ErrCodeInvalidPagination      = "INVALID_PAGINATION"
	ErrCodeInvalidSort            = "INVALID_SORT"
	ErrCodeFeedFetchFailed        = "FEED_FETCH_FAILED"
	ErrCodeNotInLibrary           = "CARD_NOT_IN_LIBRARY"
	ErrCodeCollectionAccess       = "COLLECTION_ACCESS_DENIED"
	ErrCodeCardAccess             = "CARD_ACCESS_DENIED"
	ErrCodeCardNotFound           = "CARD_NOT_FOUND"
	ErrCodeCollectionNotFound     = "COLLECTION_NOT_FOUND"
	ErrCodeCardNotInCollection    = "CARD_NOT_IN_COLLECTION"
	ErrCodeCuratorNotFound        = "CURATOR_NOT_FOUND"
	ErrCodeConcurrentModification = "CONCURRENT_MODIFICATION"
	ErrCodeUnexpected             = "UNEXPECTED_ERROR"
)

// NewValidationError は入力不正エラーを生成する。
func NewValidationError(code, message string) *APIError {
	return &APIError{
		Code:     code,
		Message:  message,
		Category: CategoryValidation,
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidCuratorIDError はキュレーターIDの形式エラーを生成する。
func NewInvalidCuratorIDError(raw string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCuratorID,
		Message:  fmt.Sprintf("無効なキュレーターIDです: %q", raw),
		Category: CategoryValidation,
		Action:   "did: で始まるDIDを指定してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: CategoryValidation,
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewFeedFetchFailedError はフィードの取得・解析の失敗エラーを生成する。
func NewFeedFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFeedFetchFailed,
		Message:  fmt.Sprintf("フィードを取得できませんでした: %s", reason),
		Category: CategoryValidation,
		Action:   "RSS/AtomフィードのURLが正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewInvalidCardContentError はカード種別と内容の不一致エラーを生成する。
func NewInvalidCardContentError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCardContent,
		Message:  fmt.Sprintf("カードの内容が不正です: %s", reason),
		Category: CategoryValidation,
		Action:   "カード種別に必要な項目を指定してください。",
	}
}

// NewInvalidCollectionNameError はコレクション名の検証エラーを生成する。
func NewInvalidCollectionNameError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCollectionName,
		Message:  fmt.Sprintf("コレクション名が不正です: %s", reason),
		Category: CategoryValidation,
		Action:   fmt.Sprintf("コレクション名は1〜%d文字で指定してください。", MaxCollectionNameLength),
	}
}

// NewInvalidDescriptionError はコレクション説明の検証エラーを生成する。
func NewInvalidDescriptionError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDescription,
		Message:  "コレクションの説明が長すぎます。",
		Category: CategoryValidation,
		Action:   fmt.Sprintf("説明は%d文字以内で指定してください。", MaxCollectionDescriptionLength),
	}
}

// NewInvalidAccessTypeError はアクセス種別の検証エラーを生成する。
func NewInvalidAccessTypeError(raw string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAccessType,
		Message:  fmt.Sprintf("無効なアクセス種別です: %q", raw),
		Category: CategoryValidation,
		Action:   "アクセス種別には OPEN または CLOSED を指定してください。",
	}
}

// NewNotInLibraryError はライブラリに存在しないカードへの操作エラーを生成する。
func NewNotInLibraryError(cardID CardID, curatorID CuratorID) *APIError {
	return &APIError{
		Code:     ErrCodeNotInLibrary,
		Message:  fmt.Sprintf("カード %s は %s のライブラリにありません。", cardID, curatorID),
		Category: CategoryValidation,
		Action:   "先にカードをライブラリに追加してください。",
	}
}

// NewCollectionAccessError はコレクション操作の権限エラーを生成する。
func NewCollectionAccessError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeCollectionAccess,
		Message:  fmt.Sprintf("コレクションを操作する権限がありません: %s", reason),
		Category: CategoryAccess,
		Action:   "コレクションの作成者に共同編集者として追加を依頼してください。",
	}
}

// NewCardAccessError はカード操作の権限エラーを生成する。
func NewCardAccessError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeCardAccess,
		Message:  fmt.Sprintf("カードを操作する権限がありません: %s", reason),
		Category: CategoryAccess,
		Action:   "自分が作成したカードのみ変更できます。",
	}
}

// NewCardNotFoundError はカード未検出エラーを生成する。
func NewCardNotFoundError(cardID string) *APIError {
	return &APIError{
		Code:     ErrCodeCardNotFound,
		Message:  fmt.Sprintf("指定されたカードが見つかりません: %s", cardID),
		Category: CategoryNotFound,
		Action:   "カードIDを確認してください。",
	}
}

// NewCollectionNotFoundError はコレクション未検出エラーを生成する。
func NewCollectionNotFoundError(collectionID string) *APIError {
	return &APIError{
		Code:     ErrCodeCollectionNotFound,
		Message:  fmt.Sprintf("指定されたコレクションが見つかりません: %s", collectionID),
		Category: CategoryNotFound,
		Action:   "コレクションIDを確認してください。",
	}
}

// NewCardNotInCollectionError はコレクションに含まれないカードへの操作エラーを生成する。
func NewCardNotInCollectionError(cardID CardID, collectionID CollectionID) *APIError {
	return &APIError{
		Code:     ErrCodeCardNotInCollection,
		Message:  fmt.Sprintf("カード %s はコレクション %s に含まれていません。", cardID, collectionID),
		Category: CategoryNotFound,
		Action:   "先にカードをコレクションに追加してください。",
	}
}

// NewCuratorNotFoundError は識別子からキュレーターを解決できない場合のエラーを生成する。
func NewCuratorNotFoundError(identifier string) *APIError {
	return &APIError{
		Code:     ErrCodeCuratorNotFound,
		Message:  fmt.Sprintf("キュレーターが見つかりません: %s", identifier),
		Category: CategoryNotFound,
		Action:   "ハンドルまたはDIDを確認してください。",
	}
}

// NewConcurrentModificationError は楽観ロックの競合エラーを生成する。
func NewConcurrentModificationError(entity, id string) *APIError {
	return &APIError{
		Code:     ErrCodeConcurrentModification,
		Message:  fmt.Sprintf("%s %s は他のリクエストにより更新されました。", entity, id),
		Category: CategoryConflict,
		Action:   "最新の状態を取得してから再度お試しください。",
	}
}

// NewUnexpectedError はストレージや外部依存の失敗をラップする。
func NewUnexpectedError(op string, err error) *APIError {
	return &APIError{
		Code:     ErrCodeUnexpected,
		Message:  fmt.Sprintf("%sに失敗しました", op),
		Category: CategorySystem,
		Action:   "しばらく待ってから再度お試しください。",
		Err:      err,
	}
}

// AsUnexpected はAPIErrorでないエラーをUnexpectedErrorに変換する。
// すでにAPIErrorの場合はそのまま返す。
func AsUnexpected(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return err
	}
	return NewUnexpectedError(op, err)
}

func hasCategory(err error, category string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Category == category
	}
	return false
}

// IsValidation はerrがValidationErrorかどうかを返す。
func IsValidation(err error) bool { return hasCategory(err, CategoryValidation) }

// IsAccess はerrがAccessErrorかどうかを返す。
func IsAccess(err error) bool { return hasCategory(err, CategoryAccess) }

// IsNotFound はerrがNotFoundErrorかどうかを返す。
func IsNotFound(err error) bool { return hasCategory(err, CategoryNotFound) }

// IsConflict はerrがConflictErrorかどうかを返す。
func IsConflict(err error) bool { return hasCategory(err, CategoryConflict) }

// IsUnexpected はerrがUnexpectedError、またはAPIError以外のエラーかどうかを返す。
func IsUnexpected(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Category == CategorySystem
	}
	return true
}
