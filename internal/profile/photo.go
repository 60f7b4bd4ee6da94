// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package profile

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MaxPhotoBytes is the default limit on profile photo size.
const MaxPhotoBytes = 5 * 1024 * 1024

// Photo error codes.
const (
	CodePhotoMissing         = "PHOTO_MISSING"
	CodePhotoTooLarge        = "PHOTO_TOO_LARGE"
	CodePhotoNotImage        = "PHOTO_NOT_IMAGE"
	CodePhotoStorageDisabled = "PHOTO_STORAGE_DISABLED"
)

// PhotoStore keeps profile photo objects.
type PhotoStore interface {
	Save(ctx context.Context, key, contentType string, body io.Reader, size int64) error
	Delete(ctx context.Context, key string) error

	// URL returns the public address of key.
	URL(key string) string
}

// Upload is a photo received from a client.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

var extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

// PhotoKey names the object for a new photo of userID:
// profile_photos/user-<id>-<16 hex>.<ext>. The extension comes from filename
// and defaults to .jpg.
func PhotoKey(userID ulid.ULID, filename string) (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", oops.Code("PHOTO_KEY_FAILED").Wrap(err)
	}
	ext := strings.ToLower(path.Ext(filename))
	if !extPattern.MatchString(ext) {
		ext = ".jpg"
	}
	return "profile_photos/user-" + userID.String() + "-" + hex.EncodeToString(buf[:]) + ext, nil
}

func checkUpload(up Upload, maxBytes int64) error {
	if up.Body == nil {
		return oops.Code(CodePhotoMissing).Errorf("no photo uploaded")
	}
	if up.Size > maxBytes {
		return oops.Code(CodePhotoTooLarge).
			With("size", up.Size).
			With("max", maxBytes).
			Errorf("photo is too large")
	}
	if !strings.HasPrefix(strings.ToLower(up.ContentType), "image/") {
		return oops.Code(CodePhotoNotImage).
			With("content_type", up.ContentType).
			Errorf("upload is not an image")
	}
	return nil
}
