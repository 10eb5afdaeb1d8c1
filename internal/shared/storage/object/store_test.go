package object

import (
	"strings"
	"testing"
)

func TestSnapshotKey(t *testing.T) {
	key, err := SnapshotKey("guest:abc", "a-1", "s-1", ".html")
	if err != nil {
		t.Fatalf("SnapshotKey: %v", err)
	}
	if !strings.HasPrefix(key, "snapshots/") || !strings.HasSuffix(key, "/a-1/s-1.html") {
		t.Fatalf("unexpected key %q", key)
	}
	if strings.Contains(key, "guest:abc") {
		t.Fatalf("expected hashed user segment, got %q", key)
	}
}

func TestSnapshotKeyRejectsTraversal(t *testing.T) {
	if _, err := SnapshotKey("u", "../etc", "s-1", ".html"); err == nil {
		t.Fatalf("expected traversal to be rejected")
	}
}

func TestSnapshotKeyFlattensSeparators(t *testing.T) {
	key, err := SnapshotKey("u", "a/1", `s\1`, ".html")
	if err != nil {
		t.Fatalf("SnapshotKey: %v", err)
	}
	if !strings.HasSuffix(key, "/a_1/s_1.html") {
		t.Fatalf("unexpected key %q", key)
	}
	if _, err := SnapshotKey("u", "  ", "s-1", ""); err == nil {
		t.Fatalf("expected blank analysis id to be rejected")
	}
}

func TestOwnerSegmentIsStableHex(t *testing.T) {
	got := ownerSegment("google:12345")
	if got != ownerSegment("google:12345") || len(got) != 64 {
		t.Fatalf("unexpected owner segment %q", got)
	}
	if got == ownerSegment("guest:12345") {
		t.Fatalf("expected distinct users to hash differently")
	}
}
