package crm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/hyperengineering/trestle/internal/types"
)

func testCreds() Credentials {
	return Credentials{CorpID: "corp-1", AppKey: "key", AppSecret: "secret", UserID: "user-1"}
}

func TestAuthenticate_ExchangesCredentialsForToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/token" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["corpId"] != "corp-1" || body["appSecret"] != "secret" {
			t.Errorf("credential body = %v", body)
		}
		json.NewEncoder(w).Encode(map[string]any{"errcode": 0, "token": "tok-1", "expiresIn": 7200})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testCreds(), 0)
	sess, err := client.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if sess.Token != "tok-1" || sess.CorpID != "corp-1" || sess.UserID != "user-1" {
		t.Errorf("session = %+v", sess)
	}
}

func TestAuthenticate_FailureIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"errcode": 40001, "errmsg": "invalid secret"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testCreds(), 0)
	_, err := client.Authenticate(context.Background())

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want *AuthError", err)
	}
}

func TestFetchPage_CarriesPaginationAndSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/data/site/list" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["token"] != "tok-1" || body["currentUserId"] != "user-1" {
			t.Errorf("session fields = %v", body)
		}
		if body["limit"] != float64(100) || body["offset"] != float64(200) {
			t.Errorf("pagination = limit %v offset %v", body["limit"], body["offset"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"errcode": 0,
			"dataList": []map[string]any{
				{"dataId": "s-201", "siteName": "Harborview"},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testCreds(), 0)
	sess := &Session{CorpID: "corp-1", UserID: "user-1", Token: "tok-1"}

	page, err := client.FetchPage(context.Background(), sess, types.EntitySite, 200, 100)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(page) != 1 || page[0][FieldDataID] != "s-201" {
		t.Errorf("page = %v", page)
	}
}

func TestFetchPage_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"errcode": 0, "dataList": []map[string]any{{"dataId": "s-1"}}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testCreds(), 3)
	sess := &Session{Token: "tok-1"}

	page, err := client.FetchPage(context.Background(), sess, types.EntitySite, 0, 100)
	if err != nil {
		t.Fatalf("fetch after retries: %v", err)
	}
	if len(page) != 1 {
		t.Errorf("page = %v", page)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestFetchPage_ExhaustedRetriesAreTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testCreds(), 1)
	sess := &Session{Token: "tok-1"}

	_, err := client.FetchPage(context.Background(), sess, types.EntitySite, 0, 100)

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
}

func TestFetchPage_APIErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"errcode": 40003, "errmsg": "token expired"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testCreds(), 5)
	sess := &Session{Token: "stale"}

	if _, err := client.FetchPage(context.Background(), sess, types.EntitySite, 0, 100); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (application errors must not be retried)", calls.Load())
	}
}

func TestUploadFile_ReturnsOpaqueIdentifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "front.jpg" || string(data) != "jpeg-bytes" {
			t.Errorf("upload = %s %q", header.Filename, data)
		}
		json.NewEncoder(w).Encode(map[string]any{"errcode": 0, "path": "crm/files/a1"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testCreds(), 0)
	sess := &Session{CorpID: "corp-1", Token: "tok-1"}

	id, err := client.UploadFile(context.Background(), sess, "front.jpg", []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if id != "crm/files/a1" {
		t.Errorf("identifier = %s", id)
	}
}

func TestDownloadFile_NotFoundAfterDelete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testCreds(), 0)
	sess := &Session{Token: "tok-1"}

	_, _, err := client.DownloadFile(context.Background(), sess, "crm/files/gone", "image/jpeg")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
