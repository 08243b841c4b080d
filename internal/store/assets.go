package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
)

// Shared codecs; both are safe for concurrent EncodeAll/DecodeAll.
var (
	blobEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	blobDecoder, _ = zstd.NewReader(nil)
)

// AssetID derives the content-addressed id of a binary:
// <kind>-<xxhash64 hex>-<ext>, e.g. "image-9f2c0e1d4b7a6e55-jpg".
func AssetID(kind AssetKind, data []byte, filename string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("%s-%016x-%s", kind, xxhash.Sum64(data), ext)
}

// UploadAsset implements Client.UploadAsset.
//
// Uploads are content-addressed, so re-uploading identical bytes is a no-op
// that returns the existing asset.
func (db *DB) UploadAsset(ctx context.Context, kind AssetKind, data []byte, filename string) (*Asset, error) {
	if db.readOnly {
		return nil, ErrReadOnly
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("upload %s: empty asset", filename)
	}

	asset := &Asset{
		ID:        AssetID(kind, data, filename),
		Kind:      kind,
		Filename:  filepath.Base(filename),
		MimeType:  http.DetectContentType(data),
		Size:      int64(len(data)),
		CreatedAt: time.Now().UTC(),
	}

	_, err := db.conn.ExecContext(ctx, `
	INSERT INTO assets (id, kind, filename, mime_type, size, data, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING
	`,
		asset.ID,
		string(asset.Kind),
		asset.Filename,
		asset.MimeType,
		asset.Size,
		blobEncoder.EncodeAll(data, nil),
		asset.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to store asset %s: %w", asset.ID, err)
	}

	return asset, nil
}

// GetAsset returns the asset metadata and its decompressed bytes.
func (db *DB) GetAsset(ctx context.Context, id string) (*Asset, []byte, error) {
	var asset Asset
	var kind, createdAt string
	var blob []byte

	err := db.conn.QueryRowContext(ctx, `
	SELECT id, kind, filename, mime_type, size, data, created_at
	FROM assets
	WHERE id = ?
	`, id).Scan(&asset.ID, &kind, &asset.Filename, &asset.MimeType, &asset.Size, &blob, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read asset %s: %w", id, err)
	}

	asset.Kind = AssetKind(kind)
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		asset.CreatedAt = t
	}

	data, err := blobDecoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decompress asset %s: %w", id, err)
	}

	return &asset, data, nil
}
