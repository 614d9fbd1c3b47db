package handler

import (
	"net/http"
	"strconv"

	"github.com/hitoshi/cardshelf/internal/model"
	"github.com/hitoshi/cardshelf/internal/query"
)

// parsePagination はpageとlimitのクエリパラメータを読み取る。
// 省略時は page=1, limit=20。limitが上限を超える場合は上限に丸める。
func parsePagination(r *http.Request) (query.Pagination, error) {
	p := query.Pagination{Page: query.DefaultPage, Limit: query.DefaultLimit}
	q := r.URL.Query()

	if raw := q.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			return p, model.NewValidationError(model.ErrCodeInvalidPagination, "pageは整数で指定してください: "+raw)
		}
		p.Page = page
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return p, model.NewValidationError(model.ErrCodeInvalidPagination, "limitは整数で指定してください: "+raw)
		}
		p.Limit = min(limit, query.MaxLimit)
	}
	return p, p.Validate()
}

// parseCardOptions はカード一覧のページネーションとソート条件を読み取る。
func parseCardOptions(r *http.Request) (query.CardOptions, error) {
	p, err := parsePagination(r)
	if err != nil {
		return query.CardOptions{}, err
	}
	sortBy, err := query.ParseCardSortField(r.URL.Query().Get("sort"))
	if err != nil {
		return query.CardOptions{}, err
	}
	order, err := query.ParseSortOrder(r.URL.Query().Get("order"))
	if err != nil {
		return query.CardOptions{}, err
	}
	return query.CardOptions{Pagination: p, SortBy: sortBy, SortOrder: order}, nil
}

// parseCollectionOptions はコレクション一覧のページネーション・ソート・検索条件を読み取る。
func parseCollectionOptions(r *http.Request) (query.CollectionOptions, error) {
	p, err := parsePagination(r)
	if err != nil {
		return query.CollectionOptions{}, err
	}
	sortBy, err := query.ParseCollectionSortField(r.URL.Query().Get("sort"))
	if err != nil {
		return query.CollectionOptions{}, err
	}
	order, err := query.ParseSortOrder(r.URL.Query().Get("order"))
	if err != nil {
		return query.CollectionOptions{}, err
	}
	return query.CollectionOptions{
		Pagination: p,
		SortBy:     sortBy,
		SortOrder:  order,
		SearchText: r.URL.Query().Get("search"),
	}, nil
}
