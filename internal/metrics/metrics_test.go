package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/hitoshi/cardshelf/internal/model"
)

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// findMetric は名前とラベルに一致するメトリクスを探す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matchLabels(m, labels) {
				return m
			}
		}
	}
	return nil
}

func matchLabels(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if want, ok := labels[lp.GetName()]; ok {
			if lp.GetValue() != want {
				return false
			}
			matched++
		}
	}
	return matched == len(labels)
}

// TestOutcome はエラーカテゴリがラベル値に変換されることを検証する。
func TestOutcome(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "ok"},
		{"validation", model.NewInvalidURLError("bad"), "validation"},
		{"access", model.NewCollectionAccessError("closed"), "access"},
		{"not found", model.NewCardNotFoundError("x"), "not_found"},
		{"conflict", model.NewConcurrentModificationError("card", "x"), "conflict"},
		{"plain error", errors.New("db down"), "system"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Outcome(tt.err); got != tt.want {
				t.Errorf("Outcome() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestRecordCommand_LabelsByOutcome はコマンド結果別にカウンタが増加することを検証する。
func TestRecordCommand_LabelsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCommand("add_url_to_library", nil)
	c.RecordCommand("add_url_to_library", nil)
	c.RecordCommand("add_url_to_library", model.NewCollectionAccessError("closed"))

	ok := findMetric(t, reg, "cardshelf_commands_total", map[string]string{"command": "add_url_to_library", "outcome": "ok"})
	if ok == nil || ok.GetCounter().GetValue() != 2 {
		t.Errorf("ok counter = %v, want 2", ok)
	}
	denied := findMetric(t, reg, "cardshelf_commands_total", map[string]string{"command": "add_url_to_library", "outcome": "access"})
	if denied == nil || denied.GetCounter().GetValue() != 1 {
		t.Errorf("access counter = %v, want 1", denied)
	}
}

// TestRecordProvenanceStamp は作成と重複排除が区別して記録されることを検証する。
func TestRecordProvenanceStamp(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordProvenanceStamp(true)
	c.RecordProvenanceStamp(false)
	c.RecordProvenanceStamp(false)

	dedup := findMetric(t, reg, "cardshelf_provenance_stamps_total", map[string]string{"result": "deduplicated"})
	if dedup == nil || dedup.GetCounter().GetValue() != 2 {
		t.Errorf("deduplicated = %v, want 2", dedup)
	}
}

// TestRecordQueryLatency_ObservesHistogram はクエリのレイテンシがヒストグラムに記録されることを検証する。
func TestRecordQueryLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordQueryLatency("cards_of_user", 150*time.Millisecond)

	m := findMetric(t, reg, "cardshelf_query_latency_seconds", map[string]string{"query": "cards_of_user"})
	if m == nil {
		t.Fatal("histogram not found")
	}
	if m.GetHistogram().GetSampleCount() != 1 {
		t.Errorf("sample count = %d, want 1", m.GetHistogram().GetSampleCount())
	}
}

// TestRecordOrphansDeleted_AddsCount は削除件数が加算されることを検証する。
func TestRecordOrphansDeleted_AddsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordOrphansDeleted(3)
	c.RecordOrphansDeleted(2)

	m := findMetric(t, reg, "cardshelf_orphan_records_deleted_total", nil)
	if m == nil || m.GetCounter().GetValue() != 5 {
		t.Errorf("orphans deleted = %v, want 5", m)
	}
}

// TestRecordHTTPStatus_LabelsByCode はステータスコード別に記録されることを検証する。
func TestRecordHTTPStatus_LabelsByCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(404)
	c.RecordMetadataFetch(false)

	if m := findMetric(t, reg, "cardshelf_http_status_total", map[string]string{"status_code": "404"}); m == nil {
		t.Error("404 status metric not found")
	}
	if m := findMetric(t, reg, "cardshelf_metadata_fetch_total", map[string]string{"result": "failure"}); m == nil {
		t.Error("metadata failure metric not found")
	}
}
