package media

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/hyperengineering/trestle/internal/crm"
	"github.com/hyperengineering/trestle/internal/types"
)

type fakeFileClient struct {
	objects   map[string][]byte
	uploadErr error
	nextID    int
}

func newFakeFileClient() *fakeFileClient {
	return &fakeFileClient{objects: make(map[string][]byte)}
}

func (f *fakeFileClient) Upload(ctx context.Context, filename string, data []byte) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.nextID++
	id := "crm/files/" + filename
	f.objects[id] = data
	return id, nil
}

func (f *fakeFileClient) Download(ctx context.Context, identifier, mediaType string) ([]byte, string, error) {
	data, ok := f.objects[identifier]
	if !ok {
		return nil, "", crm.ErrNotFound
	}
	return data, mediaType, nil
}

func (f *fakeFileClient) Delete(ctx context.Context, identifier string) error {
	if _, ok := f.objects[identifier]; !ok {
		return crm.ErrNotFound
	}
	delete(f.objects, identifier)
	return nil
}

type fakeAssetStore struct {
	rows map[string]*types.MediaAsset
}

func newFakeAssetStore() *fakeAssetStore {
	return &fakeAssetStore{rows: make(map[string]*types.MediaAsset)}
}

func (f *fakeAssetStore) SaveAsset(ctx context.Context, asset *types.MediaAsset) error {
	cp := *asset
	f.rows[asset.ID] = &cp
	return nil
}

func (f *fakeAssetStore) UpdateAssetState(ctx context.Context, id string, state types.AssetState, externalID, errMsg string) error {
	row, ok := f.rows[id]
	if !ok {
		return errors.New("asset not found")
	}
	row.State = state
	row.ExternalID = externalID
	row.Error = errMsg
	return nil
}

func (f *fakeAssetStore) GetAsset(ctx context.Context, id string) (*types.MediaAsset, error) {
	row, ok := f.rows[id]
	if !ok {
		return nil, errors.New("asset not found")
	}
	cp := *row
	return &cp, nil
}

type recordingArchiver struct {
	keys []string
	err  error
}

func (r *recordingArchiver) Archive(ctx context.Context, asset *types.MediaAsset, data []byte) error {
	if r.err != nil {
		return r.err
	}
	r.keys = append(r.keys, objectKey(asset))
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func inline(data string) string {
	return base64.StdEncoding.EncodeToString([]byte(data))
}

func newTestSyncer(client *fakeFileClient, store *fakeAssetStore, archive Archiver) *Syncer {
	return NewSyncer(client, store, archive, testLogger())
}

func pendingAsset(t *testing.T, store *fakeAssetStore, s *Syncer, filename, content string) *types.MediaAsset {
	t.Helper()
	asset := NewAsset(types.EntitySite, "s-1", "photos", filename, content)
	if err := s.Intake(context.Background(), asset); err != nil {
		t.Fatalf("intake: %v", err)
	}
	return asset
}

func TestUpload_RecordsExternalIDOnlyOnSuccess(t *testing.T) {
	client := newFakeFileClient()
	store := newFakeAssetStore()
	s := newTestSyncer(client, store, nil)
	ctx := context.Background()

	asset := pendingAsset(t, store, s, "front.jpg", inline("jpeg-bytes"))

	externalID, err := s.Upload(ctx, asset)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if externalID == "" {
		t.Fatal("empty external id on success")
	}

	row, _ := store.GetAsset(ctx, asset.ID)
	if row.State != types.AssetUploading {
		t.Errorf("state = %s, want uploading (linked only after attach)", row.State)
	}
	if row.ExternalID != externalID {
		t.Errorf("stored external id = %q, want %q", row.ExternalID, externalID)
	}
}

func TestUpload_FailureLeavesAssetFailedWithoutExternalID(t *testing.T) {
	client := newFakeFileClient()
	client.uploadErr = errors.New("endpoint down")
	store := newFakeAssetStore()
	s := newTestSyncer(client, store, nil)
	ctx := context.Background()

	asset := pendingAsset(t, store, s, "front.jpg", inline("jpeg-bytes"))

	_, err := s.Upload(ctx, asset)
	var mediaErr *MediaError
	if !errors.As(err, &mediaErr) {
		t.Fatalf("err = %v, want *MediaError", err)
	}

	row, _ := store.GetAsset(ctx, asset.ID)
	if row.State != types.AssetFailed {
		t.Errorf("state = %s, want failed", row.State)
	}
	if row.ExternalID != "" {
		t.Errorf("external id = %q, must never be set by a failed upload", row.ExternalID)
	}
	if row.Error == "" {
		t.Error("failure reason not recorded")
	}
}

func TestUpload_UndecodableContentFails(t *testing.T) {
	client := newFakeFileClient()
	store := newFakeAssetStore()
	s := newTestSyncer(client, store, nil)
	ctx := context.Background()

	asset := pendingAsset(t, store, s, "front.jpg", "%%%not-base64%%%")

	if _, err := s.Upload(ctx, asset); err == nil {
		t.Fatal("expected decode error")
	}
	row, _ := store.GetAsset(ctx, asset.ID)
	if row.State != types.AssetFailed {
		t.Errorf("state = %s, want failed", row.State)
	}
}

func TestUpload_AcceptsDataURIPrefix(t *testing.T) {
	client := newFakeFileClient()
	store := newFakeAssetStore()
	s := newTestSyncer(client, store, nil)
	ctx := context.Background()

	content := "data:image/jpeg;base64," + inline("jpeg-bytes")
	asset := pendingAsset(t, store, s, "front.jpg", content)

	id, err := s.Upload(ctx, asset)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if string(client.objects[id]) != "jpeg-bytes" {
		t.Errorf("uploaded bytes = %q", client.objects[id])
	}
}

func TestUploadMany_FailuresAreIndependent(t *testing.T) {
	client := newFakeFileClient()
	store := newFakeAssetStore()
	s := newTestSyncer(client, store, nil)
	ctx := context.Background()

	good1 := pendingAsset(t, store, s, "a.jpg", inline("a"))
	bad := pendingAsset(t, store, s, "b.jpg", "%%%bad%%%")
	good2 := pendingAsset(t, store, s, "c.jpg", inline("c"))

	results := s.UploadMany(ctx, []*types.MediaAsset{good1, bad, good2})
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Errorf("good uploads failed: %v, %v", results[0].Err, results[2].Err)
	}
	if results[1].Err == nil {
		t.Error("bad upload reported success")
	}
	if results[0].ExternalID == "" || results[2].ExternalID == "" {
		t.Error("good uploads missing external ids")
	}
}

func TestAttachToRecord_ReplacesListAndLinks(t *testing.T) {
	client := newFakeFileClient()
	store := newFakeAssetStore()
	s := newTestSyncer(client, store, nil)
	ctx := context.Background()

	a := pendingAsset(t, store, s, "a.jpg", inline("a"))
	b := pendingAsset(t, store, s, "b.pdf", inline("b"))
	for _, asset := range []*types.MediaAsset{a, b} {
		if _, err := s.Upload(ctx, asset); err != nil {
			t.Fatalf("upload: %v", err)
		}
	}

	rec := map[string]any{"photoList": "stale-value"}
	if err := s.AttachToRecord(ctx, rec, "photoList", []*types.MediaAsset{a, b}); err != nil {
		t.Fatalf("attach: %v", err)
	}

	descriptors, ok := rec["photoList"].([]types.FileDescriptor)
	if !ok {
		t.Fatalf("field type %T, want []types.FileDescriptor", rec["photoList"])
	}
	if len(descriptors) != 2 {
		t.Fatalf("descriptors = %d, want 2 (whole-list replace)", len(descriptors))
	}
	if descriptors[0].Path != a.ExternalID || !descriptors[0].IsImage {
		t.Errorf("descriptor[0] = %+v", descriptors[0])
	}
	if descriptors[1].Ext != ".pdf" || descriptors[1].IsImage {
		t.Errorf("descriptor[1] = %+v", descriptors[1])
	}

	for _, asset := range []*types.MediaAsset{a, b} {
		row, _ := store.GetAsset(ctx, asset.ID)
		if row.State != types.AssetLinked {
			t.Errorf("asset %s state = %s, want linked", asset.ID, row.State)
		}
	}
}

func TestAttachToRecord_RejectsNeverUploadedAsset(t *testing.T) {
	client := newFakeFileClient()
	store := newFakeAssetStore()
	s := newTestSyncer(client, store, nil)
	ctx := context.Background()

	asset := pendingAsset(t, store, s, "a.jpg", inline("a"))

	rec := map[string]any{}
	if err := s.AttachToRecord(ctx, rec, "photoList", []*types.MediaAsset{asset}); err == nil {
		t.Fatal("expected attach rejection for asset without external id")
	}
}

func TestMarkAttachFailed_KeepsExternalID(t *testing.T) {
	client := newFakeFileClient()
	store := newFakeAssetStore()
	s := newTestSyncer(client, store, nil)
	ctx := context.Background()

	asset := pendingAsset(t, store, s, "a.jpg", inline("a"))
	if _, err := s.Upload(ctx, asset); err != nil {
		t.Fatalf("upload: %v", err)
	}

	s.MarkAttachFailed(ctx, []*types.MediaAsset{asset}, "record update rejected")

	row, _ := store.GetAsset(ctx, asset.ID)
	if row.State != types.AssetFailed {
		t.Errorf("state = %s, want failed", row.State)
	}
	if row.ExternalID == "" {
		t.Error("external id erased; orphaned binary must stay addressable")
	}
	if row.Error != "record update rejected" {
		t.Errorf("error = %q", row.Error)
	}
}

func TestDownload_NotFoundAfterDelete(t *testing.T) {
	client := newFakeFileClient()
	store := newFakeAssetStore()
	s := newTestSyncer(client, store, nil)
	ctx := context.Background()

	asset := pendingAsset(t, store, s, "a.jpg", inline("a"))
	id, err := s.Upload(ctx, asset)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if _, _, err := s.Download(ctx, id, "image/jpeg"); err != nil {
		t.Fatalf("download before delete: %v", err)
	}
	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := s.Download(ctx, id, "image/jpeg"); !errors.Is(err, crm.ErrNotFound) {
		t.Errorf("download after delete err = %v, want ErrNotFound", err)
	}
}

func TestDownloadInline_EncodesDataURI(t *testing.T) {
	client := newFakeFileClient()
	store := newFakeAssetStore()
	s := newTestSyncer(client, store, nil)
	ctx := context.Background()

	asset := pendingAsset(t, store, s, "a.jpg", inline("jpeg-bytes"))
	id, err := s.Upload(ctx, asset)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	uri, err := s.DownloadInline(ctx, id, "image/jpeg")
	if err != nil {
		t.Fatalf("download inline: %v", err)
	}
	want := "data:image/jpeg;base64," + inline("jpeg-bytes")
	if uri != want {
		t.Errorf("uri = %q, want %q", uri, want)
	}
}

func TestUpload_ArchiveFailureIsNotFatal(t *testing.T) {
	client := newFakeFileClient()
	store := newFakeAssetStore()
	archive := &recordingArchiver{err: errors.New("bucket unreachable")}
	s := newTestSyncer(client, store, archive)
	ctx := context.Background()

	asset := pendingAsset(t, store, s, "a.jpg", inline("a"))
	if _, err := s.Upload(ctx, asset); err != nil {
		t.Fatalf("upload should survive archive failure: %v", err)
	}
}

func TestUpload_ArchivesUnderEntityScopedKey(t *testing.T) {
	client := newFakeFileClient()
	store := newFakeAssetStore()
	archive := &recordingArchiver{}
	s := newTestSyncer(client, store, archive)
	ctx := context.Background()

	asset := pendingAsset(t, store, s, "a.jpg", inline("a"))
	if _, err := s.Upload(ctx, asset); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(archive.keys) != 1 {
		t.Fatalf("archived %d objects, want 1", len(archive.keys))
	}
	if !strings.HasPrefix(archive.keys[0], "site/") || !strings.HasSuffix(archive.keys[0], ".jpg") {
		t.Errorf("archive key = %q", archive.keys[0])
	}
}
