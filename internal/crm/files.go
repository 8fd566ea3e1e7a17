package crm

import (
	"context"
	"sync"
	"time"
)

// FileService exposes the media endpoint with session management folded in,
// so callers that only move binaries do not have to thread a Session through.
// The token is cached and refreshed shortly before expiry.
type FileService struct {
	client *Client

	mu   sync.Mutex
	sess *Session
}

// Files returns the session-managing media facade for this client.
func (c *Client) Files() *FileService {
	return &FileService{client: c}
}

func (f *FileService) session(ctx context.Context) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sess != nil && time.Until(f.sess.ExpiresAt) > 30*time.Second {
		return f.sess, nil
	}
	sess, err := f.client.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	f.sess = sess
	return sess, nil
}

// Upload submits a binary and returns the external identifier.
func (f *FileService) Upload(ctx context.Context, filename string, data []byte) (string, error) {
	sess, err := f.session(ctx)
	if err != nil {
		return "", err
	}
	return f.client.UploadFile(ctx, sess, filename, data)
}

// Download fetches a binary and its content type.
func (f *FileService) Download(ctx context.Context, identifier, mediaType string) ([]byte, string, error) {
	sess, err := f.session(ctx)
	if err != nil {
		return nil, "", err
	}
	return f.client.DownloadFile(ctx, sess, identifier, mediaType)
}

// Delete removes a binary from the external store.
func (f *FileService) Delete(ctx context.Context, identifier string) error {
	sess, err := f.session(ctx)
	if err != nil {
		return err
	}
	return f.client.DeleteFile(ctx, sess, identifier)
}
