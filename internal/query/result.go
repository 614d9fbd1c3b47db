package query

// Result はページング済み一覧の結果。
type Result[T any] struct {
	Items      []T
	TotalCount int
	HasMore    bool
}

// NewResult はitemsとtotalCountからResultを組み立てる。
// HasMoreは (page-1)*limit + len(items) < totalCount で判定する。
func NewResult[T any](items []T, totalCount int, p Pagination) Result[T] {
	if items == nil {
		items = []T{}
	}
	return Result[T]{
		Items:      items,
		TotalCount: totalCount,
		HasMore:    p.Offset()+len(items) < totalCount,
	}
}

// Paginate はソート済みスライスから該当ページを切り出してResultを返す。
func Paginate[T any](all []T, p Pagination) Result[T] {
	start := p.Offset()
	if start < 0 || start > len(all) {
		start = len(all)
	}
	end := start + p.Limit
	if end > len(all) {
		end = len(all)
	}
	page := make([]T, end-start)
	copy(page, all[start:end])
	return NewResult(page, len(all), p)
}

// Map はResultの要素を変換する。件数とHasMoreは引き継ぐ。
func Map[T, U any](r Result[T], fn func(T) U) Result[U] {
	items := make([]U, len(r.Items))
	for i, item := range r.Items {
		items[i] = fn(item)
	}
	return Result[U]{Items: items, TotalCount: r.TotalCount, HasMore: r.HasMore}
}
