// Package query は一覧系クエリのページネーション・ソート・検索条件と結果を定義する。
package query

import (
	"fmt"
	"math"
	"strings"

	"github.com/hitoshi/cardshelf/internal/model"
)

// ページネーションの既定値と上限
const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
	// MaxPage はOffsetがint32に収まる上限。
	MaxPage = math.MaxInt32 / MaxLimit
)

// SortOrder はソート方向。
type SortOrder string

const (
	SortOrderAsc  SortOrder = "ASC"
	SortOrderDesc SortOrder = "DESC"
)

// CardSortField はカード一覧のソート項目。
type CardSortField string

const (
	CardSortCreatedAt    CardSortField = "CREATED_AT"
	CardSortUpdatedAt    CardSortField = "UPDATED_AT"
	CardSortLibraryCount CardSortField = "LIBRARY_COUNT"
)

// CollectionSortField はコレクション一覧のソート項目。
type CollectionSortField string

const (
	CollectionSortName      CollectionSortField = "NAME"
	CollectionSortCreatedAt CollectionSortField = "CREATED_AT"
	CollectionSortUpdatedAt CollectionSortField = "UPDATED_AT"
	CollectionSortCardCount CollectionSortField = "CARD_COUNT"
)

// ParseSortOrder は文字列からSortOrderを生成する。空文字はDESC。
func ParseSortOrder(raw string) (SortOrder, error) {
	switch o := SortOrder(strings.ToUpper(strings.TrimSpace(raw))); o {
	case "":
		return SortOrderDesc, nil
	case SortOrderAsc, SortOrderDesc:
		return o, nil
	default:
		return "", model.NewValidationError(model.ErrCodeInvalidSort, "ソート順には ASC または DESC を指定してください: "+raw)
	}
}

// ParseCardSortField は文字列からCardSortFieldを生成する。空文字はUPDATED_AT。
func ParseCardSortField(raw string) (CardSortField, error) {
	switch f := CardSortField(strings.ToUpper(strings.TrimSpace(raw))); f {
	case "":
		return CardSortUpdatedAt, nil
	case CardSortCreatedAt, CardSortUpdatedAt, CardSortLibraryCount:
		return f, nil
	default:
		return "", model.NewValidationError(model.ErrCodeInvalidSort, "無効なソート項目です: "+raw)
	}
}

// ParseCollectionSortField は文字列からCollectionSortFieldを生成する。空文字はUPDATED_AT。
func ParseCollectionSortField(raw string) (CollectionSortField, error) {
	switch f := CollectionSortField(strings.ToUpper(strings.TrimSpace(raw))); f {
	case "":
		return CollectionSortUpdatedAt, nil
	case CollectionSortName, CollectionSortCreatedAt, CollectionSortUpdatedAt, CollectionSortCardCount:
		return f, nil
	default:
		return "", model.NewValidationError(model.ErrCodeInvalidSort, "無効なソート項目です: "+raw)
	}
}

// Pagination はページ番号（1始まり）と1ページあたりの件数。
type Pagination struct {
	Page  int
	Limit int
}

// Validate は 1 <= page <= MaxPage かつ 1 <= limit <= 100 を検証する。
func (p Pagination) Validate() error {
	if p.Page < 1 {
		return model.NewValidationError(model.ErrCodeInvalidPagination, "pageは1以上を指定してください")
	}
	if p.Page > MaxPage {
		return model.NewValidationError(model.ErrCodeInvalidPagination, fmt.Sprintf("pageは%d以下を指定してください", MaxPage))
	}
	if p.Limit < 1 || p.Limit > MaxLimit {
		return model.NewValidationError(model.ErrCodeInvalidPagination, "limitは1〜100の範囲で指定してください")
	}
	return nil
}

// Offset は先頭から読み飛ばす件数を返す。
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

// CardOptions はカード一覧クエリの条件。
type CardOptions struct {
	Pagination
	SortBy    CardSortField
	SortOrder SortOrder
}

// DefaultCardOptions は既定のカード一覧条件を返す。
func DefaultCardOptions() CardOptions {
	return CardOptions{
		Pagination: Pagination{Page: DefaultPage, Limit: DefaultLimit},
		SortBy:     CardSortUpdatedAt,
		SortOrder:  SortOrderDesc,
	}
}

// Normalize はソート条件の空値を既定値で補い、ページネーションを検証する。
func (o CardOptions) Normalize() (CardOptions, error) {
	if err := o.Pagination.Validate(); err != nil {
		return CardOptions{}, err
	}
	if o.SortBy == "" {
		o.SortBy = CardSortUpdatedAt
	}
	if o.SortOrder == "" {
		o.SortOrder = SortOrderDesc
	}
	if _, err := ParseCardSortField(string(o.SortBy)); err != nil {
		return CardOptions{}, err
	}
	if _, err := ParseSortOrder(string(o.SortOrder)); err != nil {
		return CardOptions{}, err
	}
	return o, nil
}

// CollectionOptions はコレクション一覧クエリの条件。
type CollectionOptions struct {
	Pagination
	SortBy     CollectionSortField
	SortOrder  SortOrder
	SearchText string
}

// DefaultCollectionOptions は既定のコレクション一覧条件を返す。
func DefaultCollectionOptions() CollectionOptions {
	return CollectionOptions{
		Pagination: Pagination{Page: DefaultPage, Limit: DefaultLimit},
		SortBy:     CollectionSortUpdatedAt,
		SortOrder:  SortOrderDesc,
	}
}

// Normalize はソート条件の空値を既定値で補い、検索文字列をトリムし、ページネーションを検証する。
func (o CollectionOptions) Normalize() (CollectionOptions, error) {
	if err := o.Pagination.Validate(); err != nil {
		return CollectionOptions{}, err
	}
	if o.SortBy == "" {
		o.SortBy = CollectionSortUpdatedAt
	}
	if o.SortOrder == "" {
		o.SortOrder = SortOrderDesc
	}
	if _, err := ParseCollectionSortField(string(o.SortBy)); err != nil {
		return CollectionOptions{}, err
	}
	if _, err := ParseSortOrder(string(o.SortOrder)); err != nil {
		return CollectionOptions{}, err
	}
	o.SearchText = NormalizeSearch(o.SearchText)
	return o, nil
}

// HasSearch は検索条件が指定されているかどうかを返す。
func (o CollectionOptions) HasSearch() bool {
	return NormalizeSearch(o.SearchText) != ""
}

// NormalizeSearch は検索文字列の前後の空白を除去する。空白のみの場合は空文字になる。
func NormalizeSearch(text string) string {
	return strings.TrimSpace(text)
}

// MatchesSearch は name または description に検索文字列が大文字小文字を区別せず含まれるかを返す。
// 検索文字列が空の場合は常にtrue。
func MatchesSearch(search, name, description string) bool {
	search = strings.ToLower(NormalizeSearch(search))
	if search == "" {
		return true
	}
	return strings.Contains(strings.ToLower(name), search) ||
		strings.Contains(strings.ToLower(description), search)
}
