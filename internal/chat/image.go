// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const (
	// MaxImageSize is the largest attachment accepted (5MB).
	MaxImageSize = 5 * 1024 * 1024

	// DefaultVisionPrompt is sent when an image is attached without text.
	DefaultVisionPrompt = "What is in this image?"
)

var (
	// ErrImageTooLarge indicates an attachment over MaxImageSize.
	ErrImageTooLarge = errors.New("image exceeds 5MB limit")

	// ErrNotAnImage indicates the attachment is not an image file.
	ErrNotAnImage = errors.New("not an image")
)

// Image is an attachment for a vision turn.
type Image struct {
	Name string
	Data []byte
}

// LoadImage reads an image file and enforces the size limit before reading.
func LoadImage(path string) (*Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("read image: %s is a directory", path)
	}
	if info.Size() > MaxImageSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrImageTooLarge, filepath.Base(path), info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	img := &Image{Name: filepath.Base(path), Data: data}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return img, nil
}

// Validate checks the size limit and that the bytes look like an image.
func (img *Image) Validate() error {
	if len(img.Data) > MaxImageSize {
		return fmt.Errorf("%w: %d bytes", ErrImageTooLarge, len(img.Data))
	}
	if ct := http.DetectContentType(img.Data); !strings.HasPrefix(ct, "image/") {
		return fmt.Errorf("%w: detected %s", ErrNotAnImage, ct)
	}
	return nil
}

// Base64 returns the raw base64 payload without a data-URL prefix.
func (img *Image) Base64() string {
	return base64.StdEncoding.EncodeToString(img.Data)
}
