// Package evidence implements the evidence blob store: multipart upload
// into an object store under a deterministic key, a row in the evidence
// index, and retrieval by stable id.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/agentrelay/relay/internal/store"
)

// ErrNotFound is returned by ObjectStore.Get and Retrieve when the id or the
// underlying object is missing.
var ErrNotFound = errors.New("evidence: not found")

// ObjectStore is the blob-storage abstraction the Service streams bytes
// through. The production implementation in minio.go backs it with an S3 API
// bucket; tests use an in-memory stand-in.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string, metadata map[string]string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// Unconfigured is the ObjectStore used when no object-store endpoint is
// configured: every Put fails and every Get reports the object missing, so
// the rest of the relay keeps working without evidence support.
type Unconfigured struct{}

func (Unconfigured) Put(context.Context, string, io.Reader, int64, string, map[string]string) error {
	return errors.New("evidence: object store not configured")
}

func (Unconfigured) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, ErrNotFound
}

// indexStore is the subset of *store.Store the Service needs.
type indexStore interface {
	InsertEvidence(a *store.EvidenceAsset) error
	GetEvidence(id string) (*store.EvidenceAsset, error)
}

// Service ties the object store to the evidence index.
type Service struct {
	objects ObjectStore
	index   indexStore
	now     func() time.Time
}

// NewService builds an evidence Service.
func NewService(objects ObjectStore, index indexStore) *Service {
	return &Service{objects: objects, index: index, now: time.Now}
}

// Upload streams file bytes to the object store under the deterministic key
// evidence/<repo>/issue-<n>/<id>/<filename> and records the index row.
func (s *Service) Upload(ctx context.Context, repo string, issue int, eventID, filename, contentType string, r io.Reader, size int64) (*store.EvidenceAsset, error) {
	if filename == "" {
		filename = "upload.bin"
	}

	id := uuid.NewString()
	key := fmt.Sprintf("evidence/%s/issue-%d/%s/%s", repo, issue, id, filename)

	metadata := map[string]string{
		"repo":         repo,
		"issue_number": strconv.Itoa(issue),
		"event_id":     eventID,
		"uploaded_at":  s.now().UTC().Format(time.RFC3339),
	}
	if err := s.objects.Put(ctx, key, r, size, contentType, metadata); err != nil {
		return nil, fmt.Errorf("put evidence object: %w", err)
	}

	asset := &store.EvidenceAsset{
		ID:          id,
		Repo:        repo,
		IssueNumber: issue,
		EventID:     eventID,
		Filename:    filename,
		ContentType: contentType,
		SizeBytes:   size,
		ObjectKey:   key,
		CreatedAt:   s.now(),
	}
	if err := s.index.InsertEvidence(asset); err != nil {
		return nil, fmt.Errorf("index evidence asset: %w", err)
	}
	return asset, nil
}

// Retrieve looks up the index row for id and streams its bytes. It returns
// ErrNotFound when either the row or the underlying object is missing.
func (s *Service) Retrieve(ctx context.Context, id string) (*store.EvidenceAsset, io.ReadCloser, error) {
	asset, err := s.index.GetEvidence(id)
	if err != nil {
		return nil, nil, fmt.Errorf("lookup evidence %s: %w", id, err)
	}
	if asset == nil {
		return nil, nil, ErrNotFound
	}

	rc, err := s.objects.Get(ctx, asset.ObjectKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("get evidence object %s: %w", asset.ObjectKey, err)
	}
	return asset, rc, nil
}
