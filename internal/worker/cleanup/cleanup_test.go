package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/cardshelf/internal/model"
	"github.com/hitoshi/cardshelf/internal/repository/memory"
)

// mockDeleter はDeleteOrphansOlderThanの呼び出しを記録する。
type mockDeleter struct {
	before  time.Time
	deleted int64
	err     error
}

func (m *mockDeleter) DeleteOrphansOlderThan(_ context.Context, before time.Time) (int64, error) {
	m.before = before
	return m.deleted, m.err
}

type mockMetrics struct {
	orphans []int64
}

func (m *mockMetrics) RecordCommand(string, error) {}
func (m *mockMetrics) RecordQueryLatency(string, time.Duration) {}
func (m *mockMetrics) RecordProvenanceStamp(bool) {}
func (m *mockMetrics) RecordMetadataFetch(bool) {}
func (m *mockMetrics) RecordHTTPStatus(int) {}
func (m *mockMetrics) RecordOrphansDeleted(count int64) { m.orphans = append(m.orphans, count) }

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// findLogEntry はJSONログからmsgに一致する行を返す。
func findLogEntry(t *testing.T, buf *bytes.Buffer, msg string) map[string]any {
	t.Helper()
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry["msg"] == msg {
			return entry
		}
	}
	t.Fatalf("ログ %q が出力されていない。ログ出力: %s", msg, buf.String())
	return nil
}

// TestCleanupJob_Run_UsesRetention は保持日数から削除の基準時刻を計算することを検証する。
func TestCleanupJob_Run_UsesRetention(t *testing.T) {
	var buf bytes.Buffer
	deleter := &mockDeleter{deleted: 3}
	m := &mockMetrics{}
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)

	job := NewCleanupJob(deleter, m, newTestLogger(&buf))
	job.now = func() time.Time { return now }

	if job.RetentionDays != DefaultRetentionDays {
		t.Errorf("RetentionDays = %d, want %d", job.RetentionDays, DefaultRetentionDays)
	}
	deleted, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("Run がエラーを返した: %v", err)
	}
	if deleted != 3 {
		t.Errorf("deleted = %d, want 3", deleted)
	}
	if want := now.AddDate(0, 0, -30); !deleter.before.Equal(want) {
		t.Errorf("before = %v, want %v", deleter.before, want)
	}
	if len(m.orphans) != 1 || m.orphans[0] != 3 {
		t.Errorf("metrics = %v", m.orphans)
	}

	entry := findLogEntry(t, &buf, "公開記録クリーンアップジョブが完了しました")
	if entry["deleted_count"] != float64(3) || entry["retention_days"] != float64(30) {
		t.Errorf("log entry = %v", entry)
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("ログに duration_ms が記録されていない")
	}
}

// TestCleanupJob_Run_CustomRetentionDays は保持日数0で現在時刻より前の全てが対象になることを検証する。
func TestCleanupJob_Run_CustomRetentionDays(t *testing.T) {
	var buf bytes.Buffer
	deleter := &mockDeleter{}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	job := NewCleanupJob(deleter, nil, newTestLogger(&buf))
	job.now = func() time.Time { return now }
	job.RetentionDays = 0

	if _, err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run がエラーを返した: %v", err)
	}
	if !deleter.before.Equal(now) {
		t.Errorf("before = %v, want %v", deleter.before, now)
	}

	job.RetentionDays = -1
	if _, err := job.Run(context.Background()); err == nil {
		t.Error("負の保持日数はエラーになるべき")
	}
}

// TestCleanupJob_Run_ReturnsErrorOnFailure は削除失敗時にエラーを返しログに残すことを検証する。
func TestCleanupJob_Run_ReturnsErrorOnFailure(t *testing.T) {
	var buf bytes.Buffer
	dbErr := errors.New("connection refused")
	job := NewCleanupJob(&mockDeleter{err: dbErr}, nil, newTestLogger(&buf))

	_, err := job.Run(context.Background())
	if !errors.Is(err, dbErr) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
	entry := findLogEntry(t, &buf, "公開記録クリーンアップジョブの実行に失敗しました")
	if entry["level"] != "ERROR" {
		t.Errorf("level = %v", entry["level"])
	}
}

// TestCleanupJob_Run_MemoryStore は参照されている記録を残し、孤立した古い記録だけを削除することを検証する。
func TestCleanupJob_Run_MemoryStore(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	records := memory.NewPublishedRecordRepo(store)

	orphanRef, err := model.NewPublishedRecordRef("at://did:plc:alice000000000000000000/network.cosmik.card/3kaaa", "bafyreie5737gdxlw5i64vzichcalba3z2v5n6icifvx5xytvske7mr3hpm")
	if err != nil {
		t.Fatalf("NewPublishedRecordRef: %v", err)
	}
	if _, _, err := records.Upsert(ctx, orphanRef); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	var buf bytes.Buffer
	job := NewCleanupJob(records, nil, newTestLogger(&buf))
	job.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	job.RetentionDays = 1

	deleted, err := job.Run(ctx)
	if err != nil {
		t.Fatalf("Run がエラーを返した: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	// 2回目は何も削除しない
	if deleted, _ := job.Run(ctx); deleted != 0 {
		t.Errorf("2回目の deleted = %d, want 0", deleted)
	}
}
