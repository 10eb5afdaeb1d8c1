package object

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ObjectStore saves and retrieves raw source snapshots.
type ObjectStore interface {
	Put(ctx context.Context, storageKey string, contentType string, r io.Reader) (sizeBytes int64, err error)
	Open(ctx context.Context, storageKey string) (io.ReadCloser, error)
}

var errBadSegment = errors.New("invalid key segment")

// SnapshotKey is the storage key for one fetched source of an analysis:
// snapshots/<sha256(user)>/<analysis>/<source><ext>.
func SnapshotKey(userID, analysisID, sourceID, ext string) (string, error) {
	analysisSeg, err := keySegment(analysisID)
	if err != nil {
		return "", fmt.Errorf("snapshot key: analysis %q: %w", analysisID, err)
	}
	name, err := keySegment(sourceID + ext)
	if err != nil {
		return "", fmt.Errorf("snapshot key: source %q: %w", sourceID, err)
	}
	return path.Join("snapshots", ownerSegment(userID), analysisSeg, name), nil
}

// keySegment flattens separators so a segment cannot climb out of its prefix.
func keySegment(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.Contains(s, "..") {
		return "", errBadSegment
	}
	return strings.NewReplacer("/", "_", `\`, "_").Replace(s), nil
}

func ownerSegment(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(sum[:])
}
