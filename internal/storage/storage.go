package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("storage: object not found")

const (
	AudioPrefix             = "audio"
	DefaultTTLDays          = 7
	DefaultSignedURLMinutes = 60
)

// Metadata keys attached to every recording.
const (
	MetaTenantID         = "tenant_id"
	MetaOriginalFilename = "original_filename"
	MetaUploadedAt       = "uploaded_at"
	MetaExpiresAt        = "expires_at"
	MetaTTLDays          = "ttl_days"
)

type UploadInput struct {
	Data             []byte
	Filename         string
	TenantID         string
	ContentType      string
	TTLDays          int
	SignedURLMinutes int
}

type UploadResult struct {
	BlobPath  string    `json:"blob_path"`
	URI       string    `json:"uri"`
	SignedURL string    `json:"signed_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type FileInfo struct {
	BlobPath    string            `json:"blob_path"`
	Size        int64             `json:"size"`
	ContentType string            `json:"content_type"`
	CreatedAt   time.Time         `json:"created_at"`
	Metadata    map[string]string `json:"metadata"`
}

// Store keeps recordings for a limited time. Delete reports false for a
// missing object instead of failing; Download returns ErrNotFound.
type Store interface {
	Upload(ctx context.Context, in UploadInput) (UploadResult, error)
	GenerateSignedURL(ctx context.Context, blobPath string, minutes int) (string, error)
	Download(ctx context.Context, blobPath string) ([]byte, error)
	Delete(ctx context.Context, blobPath string) (bool, error)
	Exists(ctx context.Context, blobPath string) (bool, error)
	CleanupExpired(ctx context.Context) (int, error)
	ListTenantFiles(ctx context.Context, tenantID string, max int) ([]FileInfo, error)
}

// BuildObjectPath returns audio/{tenant}/{YYYY/MM/DD}/{8 hex chars}{ext}.
func BuildObjectPath(tenantID, filename string, now time.Time) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	ext := strings.ToLower(path.Ext(filename))
	return fmt.Sprintf("%s/%s/%s/%s%s", AudioPrefix, tenantID, now.UTC().Format("2006/01/02"), id, ext)
}

func buildMetadata(in UploadInput, now time.Time) (map[string]string, time.Time) {
	ttl := in.TTLDays
	if ttl <= 0 {
		ttl = DefaultTTLDays
	}
	expires := now.UTC().AddDate(0, 0, ttl)
	return map[string]string{
		MetaTenantID:         in.TenantID,
		MetaOriginalFilename: in.Filename,
		MetaUploadedAt:       now.UTC().Format(time.RFC3339),
		MetaExpiresAt:        expires.Format(time.RFC3339),
		MetaTTLDays:          strconv.Itoa(ttl),
	}, expires
}

// isExpired reports whether the object's declared expiry lies before now.
// Objects without a readable expires_at never expire.
func isExpired(meta map[string]string, now time.Time) bool {
	raw, ok := meta[MetaExpiresAt]
	if !ok {
		return false
	}
	exp, ok := parseMetaTime(raw)
	if !ok {
		return false
	}
	return now.After(exp)
}

func parseMetaTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ContentTypeFor guesses an audio MIME type from the file extension.
func ContentTypeFor(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".wav":
		return "audio/wav"
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".ogg":
		return "audio/ogg"
	case ".webm":
		return "audio/webm"
	case ".flac":
		return "audio/flac"
	default:
		return "audio/mpeg"
	}
}

func signedURLMinutes(minutes int) int {
	if minutes <= 0 {
		return DefaultSignedURLMinutes
	}
	return minutes
}
