// Package storage keeps the bytes of local files in a content addressed
// layout: <root>/storage/<h0>/<h1>/<hash>.<extension>, where h0 and h1 are
// the first two characters of the hash.
package storage

import (
	"fmt"
	"path"
	"strings"

	"kc-go/internal/catalog"
)

// shard splits a storage filename into its two shard directories. Names
// must be <hex hash>.<alphanumeric extension> with a hash of at least two
// characters.
func shard(filename string) (h0, h1 string, err error) {
	hash, ext, ok := strings.Cut(filename, ".")
	if !ok || len(hash) < 2 || ext == "" {
		return "", "", fmt.Errorf("%w: %q", catalog.ErrInvalidStorageFilename, filename)
	}
	for _, c := range hash {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return "", "", fmt.Errorf("%w: %q", catalog.ErrInvalidStorageFilename, filename)
		}
	}
	for _, c := range ext {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return "", "", fmt.Errorf("%w: %q", catalog.ErrInvalidStorageFilename, filename)
		}
	}
	return hash[0:1], hash[1:2], nil
}

// contentURL renders <baseURL>content/storage/<h0>/<h1>/<filename>.
func contentURL(baseURL, filename string) (string, error) {
	h0, h1, err := shard(filename)
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL + path.Join("content", "storage", h0, h1, filename), nil
}
