package model

import (
	"testing"
	"time"
)

const testCID = "bafyreie5737gdxlw5i64vzichcalba3z2v5n6icifvx5xytvske7mr3hpm"

func mustRef(t *testing.T, uri string) PublishedRecordRef {
	t.Helper()
	ref, err := NewPublishedRecordRef(uri, testCID)
	if err != nil {
		t.Fatalf("NewPublishedRecordRef(%q) returned error: %v", uri, err)
	}
	return ref
}

// TestNewPublishedRecordRef はAT-URIとCIDの検証を確認する。
func TestNewPublishedRecordRef(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		cid     string
		wantErr bool
	}{
		{name: "正常", uri: "at://did:plc:alice/network.cosmik.collection/3kabc", cid: testCID},
		{name: "https URI", uri: "https://example.com/x", cid: testCID, wantErr: true},
		{name: "空のCID", uri: "at://did:plc:alice/network.cosmik.collection/3kabc", cid: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := NewPublishedRecordRef(tt.uri, tt.cid)
			if tt.wantErr {
				if !IsValidation(err) {
					t.Errorf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewPublishedRecordRef returned error: %v", err)
			}
			if ref.URI() != tt.uri || ref.CID() != tt.cid {
				t.Errorf("ref = (%q, %q), want (%q, %q)", ref.URI(), ref.CID(), tt.uri, tt.cid)
			}
		})
	}
}

// TestPublishedRecordRef_Equals は (uri, cid) の組で比較されることを確認する。
func TestPublishedRecordRef_Equals(t *testing.T) {
	a := mustRef(t, "at://did:plc:alice/network.cosmik.card/3kaaa")
	b := mustRef(t, "at://did:plc:alice/network.cosmik.card/3kaaa")
	c := mustRef(t, "at://did:plc:alice/network.cosmik.card/3kbbb")
	if !a.Equals(b) {
		t.Error("expected equal refs")
	}
	if a.Equals(c) {
		t.Error("expected different refs")
	}
}

// TestATURICollection はNSIDの抽出を確認する。
func TestATURICollection(t *testing.T) {
	if got := ATURICollection("at://did:plc:alice/network.cosmik.collection/3kabc"); got != "network.cosmik.collection" {
		t.Errorf("ATURICollection = %q, want %q", got, "network.cosmik.collection")
	}
	if got := ATURICollection("not a uri"); got != "" {
		t.Errorf("ATURICollection = %q, want empty", got)
	}
}

// TestPublishedRecord_URI はnilの公開記録でも空文字を返すことを確認する。
func TestPublishedRecord_URI(t *testing.T) {
	var nilRecord *PublishedRecord
	if nilRecord.URI() != "" {
		t.Error("expected empty URI for nil record")
	}
	ref := mustRef(t, "at://did:plc:alice/network.cosmik.card/3kaaa")
	record := NewPublishedRecord(ref, time.Now())
	if record.URI() != ref.URI() {
		t.Errorf("URI() = %q, want %q", record.URI(), ref.URI())
	}
	if record.ID.IsZero() {
		t.Error("expected generated id")
	}
}
