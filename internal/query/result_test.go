package query

import (
	"math"
	"testing"
)

// TestNewResult_HasMore はhasMoreの判定式を確認する。
func TestNewResult_HasMore(t *testing.T) {
	tests := []struct {
		name     string
		page     int
		limit    int
		returned int
		total    int
		want     bool
	}{
		{"先頭ページで続きあり", 1, 2, 2, 5, true},
		{"中間ページ", 2, 2, 2, 5, true},
		{"最終ページ", 3, 2, 1, 5, false},
		{"ちょうど埋まる", 1, 5, 5, 5, false},
		{"空", 1, 20, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := make([]int, tt.returned)
			r := NewResult(items, tt.total, Pagination{Page: tt.page, Limit: tt.limit})
			if r.HasMore != tt.want {
				t.Errorf("HasMore = %v, want %v", r.HasMore, tt.want)
			}
		})
	}
}

// TestPaginate_BeyondLastPage は最終ページより後が空でhasMore=falseになることを確認する。
func TestPaginate_BeyondLastPage(t *testing.T) {
	all := []int{1, 2, 3, 4, 5}

	r := Paginate(all, Pagination{Page: 2, Limit: 2})
	if len(r.Items) != 2 || r.Items[0] != 3 || r.Items[1] != 4 {
		t.Errorf("Items = %v, want [3 4]", r.Items)
	}
	if !r.HasMore || r.TotalCount != 5 {
		t.Errorf("HasMore = %v, TotalCount = %d", r.HasMore, r.TotalCount)
	}

	r = Paginate(all, Pagination{Page: 10, Limit: 2})
	if len(r.Items) != 0 {
		t.Errorf("Items = %v, want empty", r.Items)
	}
	if r.Items == nil {
		t.Error("Items should be an empty slice, not nil")
	}
	if r.HasMore {
		t.Error("HasMore should be false beyond the last page")
	}
	if r.TotalCount != 5 {
		t.Errorf("TotalCount = %d, want 5", r.TotalCount)
	}
}

// TestPaginate_OverflowingOffset はoffsetが負になるページ指定でもpanicせず空の結果を返すことを確認する。
func TestPaginate_OverflowingOffset(t *testing.T) {
	r := Paginate([]int{1, 2, 3}, Pagination{Page: math.MaxInt/50 + 1, Limit: 100})
	if len(r.Items) != 0 {
		t.Errorf("Items = %v, want empty", r.Items)
	}
	if r.TotalCount != 3 {
		t.Errorf("TotalCount = %d, want 3", r.TotalCount)
	}
}

// TestMap は変換後も件数情報が保持されることを確認する。
func TestMap(t *testing.T) {
	r := Paginate([]int{1, 2, 3}, Pagination{Page: 1, Limit: 2})
	out := Map(r, func(v int) string { return string(rune('a' + v)) })
	if len(out.Items) != 2 || out.Items[0] != "b" || !out.HasMore || out.TotalCount != 3 {
		t.Errorf("Map = %+v", out)
	}
}
