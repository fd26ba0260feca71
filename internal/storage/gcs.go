package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type GCSStore struct {
	Client *gcs.Client
	Bucket string
	// GoogleAccessID and PrivateKey sign URLs when set. Otherwise the client
	// detects a signer from its credentials.
	GoogleAccessID string
	PrivateKey     []byte
	Now            func() time.Time
}

type serviceAccountJSON struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

func NewGCSStore(ctx context.Context, bucket, credentialsJSON string) (*GCSStore, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("GCS_BUCKET is required")
	}
	s := &GCSStore{Bucket: bucket}

	var opts []option.ClientOption
	if credJSON := strings.TrimSpace(credentialsJSON); credJSON != "" {
		var key serviceAccountJSON
		if err := json.Unmarshal([]byte(credJSON), &key); err != nil {
			return nil, fmt.Errorf("invalid GCS_CREDENTIALS_JSON: %w", err)
		}
		if key.ClientEmail != "" && key.PrivateKey != "" {
			s.GoogleAccessID = key.ClientEmail
			s.PrivateKey = []byte(strings.ReplaceAll(key.PrivateKey, "\\n", "\n"))
		}
		opts = append(opts, option.WithCredentialsJSON([]byte(credJSON)))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	s.Client = client
	return s, nil
}

func (s *GCSStore) Close() error {
	return s.Client.Close()
}

func (s *GCSStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *GCSStore) Upload(ctx context.Context, in UploadInput) (UploadResult, error) {
	now := s.now()
	blobPath := BuildObjectPath(in.TenantID, in.Filename, now)
	meta, expires := buildMetadata(in, now)

	contentType := in.ContentType
	if contentType == "" {
		contentType = ContentTypeFor(in.Filename)
	}

	wc := s.Client.Bucket(s.Bucket).Object(blobPath).NewWriter(ctx)
	wc.ContentType = contentType
	wc.Metadata = meta
	if _, err := wc.Write(in.Data); err != nil {
		_ = wc.Close()
		return UploadResult{}, fmt.Errorf("upload %s: %w", blobPath, err)
	}
	if err := wc.Close(); err != nil {
		return UploadResult{}, fmt.Errorf("upload %s: %w", blobPath, err)
	}

	signed, err := s.GenerateSignedURL(ctx, blobPath, in.SignedURLMinutes)
	if err != nil {
		return UploadResult{}, err
	}
	return UploadResult{
		BlobPath:  blobPath,
		URI:       fmt.Sprintf("gs://%s/%s", s.Bucket, blobPath),
		SignedURL: signed,
		ExpiresAt: expires,
	}, nil
}

func (s *GCSStore) GenerateSignedURL(ctx context.Context, blobPath string, minutes int) (string, error) {
	opts := &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  "GET",
		Expires: s.now().Add(time.Duration(signedURLMinutes(minutes)) * time.Minute),
	}
	if s.GoogleAccessID != "" && len(s.PrivateKey) > 0 {
		opts.GoogleAccessID = s.GoogleAccessID
		opts.PrivateKey = s.PrivateKey
		return gcs.SignedURL(s.Bucket, blobPath, opts)
	}
	return s.Client.Bucket(s.Bucket).SignedURL(blobPath, opts)
}

func (s *GCSStore) Download(ctx context.Context, blobPath string) ([]byte, error) {
	r, err := s.Client.Bucket(s.Bucket).Object(blobPath).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (s *GCSStore) Delete(ctx context.Context, blobPath string) (bool, error) {
	err := s.Client.Bucket(s.Bucket).Object(blobPath).Delete(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *GCSStore) Exists(ctx context.Context, blobPath string) (bool, error) {
	_, err := s.Client.Bucket(s.Bucket).Object(blobPath).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CleanupExpired deletes every recording whose expires_at metadata is in the
// past. Objects already removed by a concurrent run are skipped.
func (s *GCSStore) CleanupExpired(ctx context.Context) (int, error) {
	now := s.now()
	bucket := s.Client.Bucket(s.Bucket)
	it := bucket.Objects(ctx, &gcs.Query{Prefix: AudioPrefix + "/"})

	deleted := 0
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return deleted, err
		}
		if !isExpired(attrs.Metadata, now) {
			continue
		}
		if err := bucket.Object(attrs.Name).Delete(ctx); err != nil {
			if errors.Is(err, gcs.ErrObjectNotExist) {
				continue
			}
			return deleted, fmt.Errorf("delete %s: %w", attrs.Name, err)
		}
		deleted++
	}
	return deleted, nil
}

func (s *GCSStore) ListTenantFiles(ctx context.Context, tenantID string, max int) ([]FileInfo, error) {
	if max <= 0 {
		max = 100
	}
	it := s.Client.Bucket(s.Bucket).Objects(ctx, &gcs.Query{Prefix: AudioPrefix + "/" + tenantID + "/"})

	out := []FileInfo{}
	for len(out) < max {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, FileInfo{
			BlobPath:    attrs.Name,
			Size:        attrs.Size,
			ContentType: attrs.ContentType,
			CreatedAt:   attrs.Created,
			Metadata:    attrs.Metadata,
		})
	}
	return out, nil
}
