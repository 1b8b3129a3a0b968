// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package pnp

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const configListPath = "/api/v1/file/namespace/config"

// TestFileIDByName_CachedHit verifies a cached entry needs no refresh
func TestFileIDByName_CachedHit(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)
	files := NewFileHandler(client)
	ctx := context.Background()

	id := srv.AddFile("config", "switch1.txt")

	for i := 0; i < 3; i++ {
		got, err := files.FileIDByName(ctx, "switch1.txt", NamespaceConfig)
		if err != nil {
			t.Fatalf("FileIDByName() failed: %v", err)
		}
		if got != id {
			t.Errorf("FileIDByName() = %q, want %q", got, id)
		}
	}
	if hits := srv.Hits(MethodGet, configListPath); hits != 1 {
		t.Errorf("expected 1 listing fetch, got %d", hits)
	}
}

// TestFileIDByName_RefreshOnce verifies a cache miss refreshes exactly once
func TestFileIDByName_RefreshOnce(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)
	files := NewFileHandler(client)
	ctx := context.Background()

	srv.AddFile("config", "switch1.txt")
	if _, err := files.Refresh(ctx, NamespaceConfig); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}

	_, err := files.FileIDByName(ctx, "missing.txt", NamespaceConfig)
	if !IsKind(err, KindNotFound) {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
	if hits := srv.Hits(MethodGet, configListPath); hits != 2 {
		t.Errorf("expected 2 listing fetches (load + one refresh), got %d", hits)
	}
}

// TestFileIDByName_FoundAfterRefresh verifies a file added after caching is found
func TestFileIDByName_FoundAfterRefresh(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)
	files := NewFileHandler(client)
	ctx := context.Background()

	if _, err := files.Files(ctx, NamespaceConfig); err != nil {
		t.Fatalf("Files() failed: %v", err)
	}
	id := srv.AddFile("config", "late.txt")

	got, err := files.FileIDByName(ctx, "late.txt", NamespaceConfig)
	if err != nil {
		t.Fatalf("FileIDByName() failed: %v", err)
	}
	if got != id {
		t.Errorf("FileIDByName() = %q, want %q", got, id)
	}
}

// TestFileIDByName_EmptyCache verifies the initial load counts as the refresh
func TestFileIDByName_EmptyCache(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)
	files := NewFileHandler(client)

	_, err := files.FileIDByName(context.Background(), "missing.txt", NamespaceConfig)
	if !IsKind(err, KindNotFound) {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
	if hits := srv.Hits(MethodGet, configListPath); hits != 1 {
		t.Errorf("expected 1 listing fetch, got %d", hits)
	}
}

// TestFileNameByID tests lookup by id per namespace
func TestFileNameByID(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)
	files := NewFileHandler(client)
	ctx := context.Background()

	imageID := srv.AddFile("image", "cat3k.bin")

	name, err := files.FileNameByID(ctx, imageID, NamespaceImage)
	if err != nil {
		t.Fatalf("FileNameByID() failed: %v", err)
	}
	if name != "cat3k.bin" {
		t.Errorf("FileNameByID() = %q", name)
	}

	_, err = files.FileNameByID(ctx, imageID, NamespaceConfig)
	if !IsKind(err, KindNotFound) {
		t.Errorf("expected KindNotFound in config namespace, got %v", err)
	}
}

// TestFiles_ReturnsCopy verifies callers cannot modify the cached listing
func TestFiles_ReturnsCopy(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)
	files := NewFileHandler(client)
	ctx := context.Background()

	id := srv.AddFile("config", "switch1.txt")

	refreshed, err := files.Refresh(ctx, NamespaceConfig)
	if err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}
	refreshed[0].Name = "changed.txt"

	listing, err := files.Files(ctx, NamespaceConfig)
	if err != nil {
		t.Fatalf("Files() failed: %v", err)
	}
	if len(listing) != 1 || listing[0].Name != "switch1.txt" {
		t.Fatalf("Files() = %+v, want the unmodified listing", listing)
	}
	listing[0].ID = "other"

	got, err := files.FileIDByName(ctx, "switch1.txt", NamespaceConfig)
	if err != nil {
		t.Fatalf("FileIDByName() failed: %v", err)
	}
	if got != id {
		t.Errorf("FileIDByName() = %q, want %q", got, id)
	}
	if hits := srv.Hits(MethodGet, configListPath); hits != 1 {
		t.Errorf("expected 1 listing fetch, got %d", hits)
	}
}

// TestFiles_InvalidNamespace verifies namespace validation
func TestFiles_InvalidNamespace(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)
	files := NewFileHandler(client)
	ctx := context.Background()

	_, err := files.FileIDByName(ctx, "x", Namespace("template"))
	if !IsKind(err, KindValidation) {
		t.Errorf("expected KindValidation, got %v", err)
	}
	if _, err := files.Refresh(ctx, Namespace("")); !IsKind(err, KindValidation) {
		t.Errorf("expected KindValidation, got %v", err)
	}
	if srv.Logins() != 0 {
		t.Error("expected no request for an invalid namespace")
	}
}

// TestUpload verifies a multipart upload and cache invalidation
func TestUpload(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)
	files := NewFileHandler(client)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "switch1.txt")
	if err := os.WriteFile(path, []byte("hostname switch1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := files.Files(ctx, NamespaceConfig); err != nil {
		t.Fatalf("Files() failed: %v", err)
	}

	info, err := files.Upload(ctx, path, NamespaceConfig)
	if err != nil {
		t.Fatalf("Upload() failed: %v", err)
	}
	if info.ID == "" || info.Name != "switch1.txt" {
		t.Errorf("unexpected file info: %+v", info)
	}
	if info.Namespace != NamespaceConfig {
		t.Errorf("Namespace = %q", info.Namespace)
	}
	if info.FileSize != "17" {
		t.Errorf("FileSize = %q, want 17", info.FileSize)
	}
	if info.MD5Checksum == "" || info.SHA1Checksum == "" {
		t.Error("expected checksums")
	}

	id, err := files.FileIDByName(ctx, "switch1.txt", NamespaceConfig)
	if err != nil {
		t.Fatalf("FileIDByName() after upload failed: %v", err)
	}
	if id != info.ID {
		t.Errorf("FileIDByName() = %q, want %q", id, info.ID)
	}
	if hits := srv.Hits(MethodGet, configListPath); hits != 2 {
		t.Errorf("expected the upload to invalidate the cache (2 fetches), got %d", hits)
	}
}

// TestUpload_NotRegularFile verifies local validation of the path
func TestUpload_NotRegularFile(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)
	files := NewFileHandler(client)
	ctx := context.Background()

	tests := []struct {
		name string
		path string
	}{
		{"directory", t.TempDir()},
		{"missing", filepath.Join(t.TempDir(), "nope.txt")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := files.Upload(ctx, tt.path, NamespaceConfig)
			if !IsKind(err, KindValidation) {
				t.Errorf("expected KindValidation, got %v", err)
			}
		})
	}
	if srv.Hits(MethodPost, "/api/v1/file/config") != 0 {
		t.Error("expected no upload request")
	}
}

// TestUpload_Duplicate verifies a controller rejection is reported as server error
func TestUpload_Duplicate(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)
	files := NewFileHandler(client)

	srv.AddFile("config", "switch1.txt")
	path := filepath.Join(t.TempDir(), "switch1.txt")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := files.Upload(context.Background(), path, NamespaceConfig)
	if !IsKind(err, KindServer) {
		t.Fatalf("expected KindServer, got %v", err)
	}
	if !strings.Contains(err.Error(), "File already exists") {
		t.Errorf("unexpected message: %v", err)
	}
}

// TestDeleteFile verifies deletion waits for the task and drops the cache
func TestDeleteFile(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)
	files := NewFileHandler(client)
	ctx := context.Background()

	id := srv.AddFile("config", "old.txt")
	srv.SetPendingPolls(2)

	if err := files.Delete(ctx, id, NamespaceConfig); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := files.FileIDByName(ctx, "old.txt", NamespaceConfig); !IsKind(err, KindNotFound) {
		t.Errorf("expected KindNotFound after delete, got %v", err)
	}
}

// TestDeleteFile_Unknown verifies nothing is deleted for an unknown id
func TestDeleteFile_Unknown(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)
	files := NewFileHandler(client)

	err := files.Delete(context.Background(), "nope", NamespaceImage)
	if !IsKind(err, KindNotFound) {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
	if srv.Hits(MethodDelete, "/api/v1/pnp-file/image/nope") != 0 {
		t.Error("expected no delete request")
	}
}

// TestEnsureFile tests lookup-or-upload
func TestEnsureFile(t *testing.T) {
	srv := newTestServer(t)
	client := newTestClient(t, srv)
	files := NewFileHandler(client)
	ctx := context.Background()

	existing := srv.AddFile("image", "cat3k.bin")
	id, uploaded, err := files.EnsureFile(ctx, "cat3k.bin", "/does/not/matter", NamespaceImage)
	if err != nil {
		t.Fatalf("EnsureFile() failed: %v", err)
	}
	if uploaded || id != existing {
		t.Errorf("expected existing id %q without upload, got %q uploaded=%v", existing, id, uploaded)
	}

	path := filepath.Join(t.TempDir(), "c2960x.bin")
	if err := os.WriteFile(path, []byte("image"), 0o600); err != nil {
		t.Fatal(err)
	}
	id, uploaded, err = files.EnsureFile(ctx, "c2960x.bin", path, NamespaceImage)
	if err != nil {
		t.Fatalf("EnsureFile() failed: %v", err)
	}
	if !uploaded || id == "" {
		t.Errorf("expected an upload, got %q uploaded=%v", id, uploaded)
	}

	_, _, err = files.EnsureFile(ctx, "missing.bin", filepath.Join(t.TempDir(), "missing.bin"), NamespaceImage)
	if !IsKind(err, KindValidation) {
		t.Errorf("expected KindValidation for a missing local file, got %v", err)
	}
}
