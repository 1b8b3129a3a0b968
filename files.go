// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package pnp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

// Namespace is a controller file namespace
type Namespace string

// File namespaces used by PnP provisioning
const (
	NamespaceConfig Namespace = "config"
	NamespaceImage  Namespace = "image"
)

func (ns Namespace) validate(op string) error {
	if ns == NamespaceConfig || ns == NamespaceImage {
		return nil
	}
	return &PnpError{
		Operation: op,
		Kind:      KindValidation,
		Message:   fmt.Sprintf("invalid namespace %q (must be config or image)", string(ns)),
	}
}

// FileInfo describes a file stored on the controller
type FileInfo struct {
	ID           string
	Name         string
	Namespace    Namespace
	FileFormat   string
	FileSize     string
	MD5Checksum  string
	SHA1Checksum string
}

func newFileInfo(doc gjson.Result, ns Namespace) FileInfo {
	info := FileInfo{
		ID:           doc.Get("id").String(),
		Name:         doc.Get("name").String(),
		Namespace:    Namespace(doc.Get("nameSpace").String()),
		FileFormat:   doc.Get("fileFormat").String(),
		FileSize:     doc.Get("fileSize").String(),
		MD5Checksum:  doc.Get("md5Checksum").String(),
		SHA1Checksum: doc.Get("sha1Checksum").String(),
	}
	if info.Namespace == "" {
		info.Namespace = ns
	}
	return info
}

// FileHandler resolves and manages controller files per namespace
//
// Listings are cached per namespace. A lookup that misses the cache refreshes the
// listing exactly once before reporting KindNotFound; a namespace that was never
// loaded is fetched once and that fetch counts as the refresh. Upload and Delete
// invalidate the cached listing of their namespace.
//
// A FileHandler is safe for concurrent use.
type FileHandler struct {
	client *Client

	mu       sync.Mutex
	listings map[Namespace][]FileInfo
}

// NewFileHandler creates a FileHandler bound to the client session
//
// Example:
//
//	files := pnp.NewFileHandler(client)
//	imageID, err := files.FileIDByName(ctx, "cat3k_caa-universalk9.SPA.03.07.04.E.152-3.E4.bin", pnp.NamespaceImage)
func NewFileHandler(client *Client) *FileHandler {
	return &FileHandler{
		client:   client,
		listings: make(map[Namespace][]FileInfo),
	}
}

// Refresh reloads the listing of a namespace from the controller
func (h *FileHandler) Refresh(ctx context.Context, ns Namespace) ([]FileInfo, error) {
	if err := ns.validate("RefreshFiles"); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	files, err := h.refresh(ctx, ns)
	if err != nil {
		return nil, err
	}
	return slices.Clone(files), nil
}

// refresh fetches a namespace listing.
//
// PRECONDITION: Caller must hold h.mu.
func (h *FileHandler) refresh(ctx context.Context, ns Namespace) ([]FileInfo, error) {
	res, err := h.client.Get(ctx, fileNamespacePath+string(ns))
	if err != nil {
		return nil, withOperation("RefreshFiles", err)
	}

	listing := res.Response()
	if !listing.IsArray() {
		return nil, &PnpError{
			Operation:   "RefreshFiles",
			Kind:        KindDecode,
			StatusCode:  res.StatusCode,
			Message:     "response is not a file listing",
			InternalMsg: truncateBody(res.Body),
		}
	}

	files := make([]FileInfo, 0, len(listing.Array()))
	for _, entry := range listing.Array() {
		files = append(files, newFileInfo(entry, ns))
	}
	h.listings[ns] = files

	h.client.logger.Debug(ctx, "APIC-EM file listing refreshed",
		"namespace", string(ns),
		"files", len(files))

	return files, nil
}

// Files returns a copy of the cached listing of a namespace, loading it if necessary
func (h *FileHandler) Files(ctx context.Context, ns Namespace) ([]FileInfo, error) {
	if err := ns.validate("Files"); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	files, ok := h.listings[ns]
	if !ok {
		var err error
		if files, err = h.refresh(ctx, ns); err != nil {
			return nil, err
		}
	}
	return slices.Clone(files), nil
}

// FileIDByName returns the id of the file with the given name
//
// Returns a KindNotFound error if the file is not present after one refresh.
func (h *FileHandler) FileIDByName(ctx context.Context, name string, ns Namespace) (string, error) {
	info, err := h.lookup(ctx, "FileIDByName", ns, "name "+name, func(f FileInfo) bool {
		return f.Name == name
	})
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// FileNameByID returns the name of the file with the given id
//
// Returns a KindNotFound error if the file is not present after one refresh.
func (h *FileHandler) FileNameByID(ctx context.Context, id string, ns Namespace) (string, error) {
	info, err := h.lookup(ctx, "FileNameByID", ns, "id "+id, func(f FileInfo) bool {
		return f.ID == id
	})
	if err != nil {
		return "", err
	}
	return info.Name, nil
}

// lookup searches the cached listing, refreshing it at most once
func (h *FileHandler) lookup(ctx context.Context, op string, ns Namespace, what string, match func(FileInfo) bool) (FileInfo, error) {
	if err := ns.validate(op); err != nil {
		return FileInfo{}, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	files, loaded := h.listings[ns]
	if !loaded {
		var err error
		if files, err = h.refresh(ctx, ns); err != nil {
			return FileInfo{}, withOperation(op, err)
		}
	}
	if info, ok := findFile(files, match); ok {
		return info, nil
	}

	if loaded {
		var err error
		if files, err = h.refresh(ctx, ns); err != nil {
			return FileInfo{}, withOperation(op, err)
		}
		if info, ok := findFile(files, match); ok {
			return info, nil
		}
	}

	return FileInfo{}, &PnpError{
		Operation: op,
		Kind:      KindNotFound,
		Message:   fmt.Sprintf("no %s file with %s", string(ns), what),
	}
}

func findFile(files []FileInfo, match func(FileInfo) bool) (FileInfo, bool) {
	for _, f := range files {
		if match(f) {
			return f, true
		}
	}
	return FileInfo{}, false
}

// Upload stores a local file in a namespace
//
// The path must name a regular file. The file is sent as the multipart field
// "file" under its base name. Large images usually need a longer Timeout.
//
// Example:
//
//	info, err := files.Upload(ctx, "/configs/switch1.txt", pnp.NamespaceConfig)
//	if err != nil {
//	    return err
//	}
//	fmt.Println("uploaded", info.Name, "as", info.ID)
func (h *FileHandler) Upload(ctx context.Context, path string, ns Namespace, mods ...func(*Req)) (FileInfo, error) {
	if err := ns.validate("UploadFile"); err != nil {
		return FileInfo{}, err
	}

	payload, contentType, err := multipartFile(path)
	if err != nil {
		return FileInfo{}, &PnpError{
			Operation: "UploadFile",
			Kind:      KindValidation,
			Message:   fmt.Sprintf("cannot upload %s", path),
			Err:       err,
		}
	}

	req := &Req{contentType: contentType}
	for _, mod := range mods {
		mod(req)
	}

	res, err := h.client.do(ctx, "UploadFile", MethodPost, fileUploadPath+string(ns), payload, req)
	if err != nil {
		return FileInfo{}, err
	}

	doc := res.Response()
	info := newFileInfo(doc, ns)
	if !doc.IsObject() || info.ID == "" {
		return FileInfo{}, &PnpError{
			Operation:   "UploadFile",
			Kind:        KindDecode,
			StatusCode:  res.StatusCode,
			Message:     "response has no file id",
			InternalMsg: truncateBody(res.Body),
		}
	}

	h.invalidate(ns)

	h.client.logger.Info(ctx, "APIC-EM file uploaded",
		"namespace", string(ns),
		"name", info.Name,
		"file_id", info.ID)

	return info, nil
}

// multipartFile encodes a regular file as a multipart/form-data body
func multipartFile(path string) ([]byte, string, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, "", err
	}
	if !stat.Mode().IsRegular() {
		return nil, "", fmt.Errorf("%s is not a regular file", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close() //nolint:errcheck // read-only

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

// Delete removes a file from a namespace and waits for the controller task
//
// The id is checked against the listing first; an unknown id is a KindNotFound
// error and nothing is sent.
func (h *FileHandler) Delete(ctx context.Context, id string, ns Namespace) error {
	if strings.TrimSpace(id) == "" {
		return &PnpError{Operation: "DeleteFile", Kind: KindValidation, Message: "file id cannot be empty"}
	}
	if _, err := h.FileNameByID(ctx, id, ns); err != nil {
		return withOperation("DeleteFile", err)
	}

	path := pnpFilePath + string(ns) + "/" + url.PathEscape(id)
	if _, err := h.client.runTask(ctx, "DeleteFile", MethodDelete, path, nil); err != nil {
		return err
	}

	h.invalidate(ns)

	h.client.logger.Info(ctx, "APIC-EM file deleted",
		"namespace", string(ns),
		"file_id", id)
	return nil
}

// EnsureFile returns the id of the named file, uploading path when it is missing
//
// The boolean reports whether an upload took place.
//
// Example:
//
//	imageID, uploaded, err := files.EnsureFile(ctx,
//	    "cat3k.bin", "/images/cat3k.bin", pnp.NamespaceImage, pnp.Timeout(10*time.Minute))
func (h *FileHandler) EnsureFile(ctx context.Context, name, path string, ns Namespace, mods ...func(*Req)) (string, bool, error) {
	id, err := h.FileIDByName(ctx, name, ns)
	if err == nil {
		return id, false, nil
	}
	if !IsKind(err, KindNotFound) {
		return "", false, withOperation("EnsureFile", err)
	}

	info, err := h.Upload(ctx, path, ns, mods...)
	if err != nil {
		return "", false, withOperation("EnsureFile", err)
	}
	return info.ID, true, nil
}

func (h *FileHandler) invalidate(ns Namespace) {
	h.mu.Lock()
	delete(h.listings, ns)
	h.mu.Unlock()
}
