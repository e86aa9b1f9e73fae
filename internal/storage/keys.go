package storage

import (
	"path"
	"strings"

	"github.com/google/uuid"
)

const maxAlbumIDLen = 64

var imageExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true, "webp": true, "heic": true, "heif": true,
}

// ValidAlbumID reports whether id can appear in an object key. Only
// unreserved URL characters are allowed so that keys never need
// percent-encoding: the proxy hashes the decoded $uri while the signer hashes
// the encoded path, and the two only agree when they are the same string.
func ValidAlbumID(id string) bool {
	if id == "" || len(id) > maxAlbumIDLen || id == "." || id == ".." {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		case c == '-', c == '_', c == '.', c == '~':
		default:
			return false
		}
	}
	return true
}

// IsImageFilename reports whether name has one of the accepted image
// extensions.
func IsImageFilename(name string) bool {
	return imageExtensions[strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))]
}

// ObjectKey returns a fresh key of the form pictures/<album>/<hex>.<ext>.
// Unknown extensions fall back to jpg. albumID must pass ValidAlbumID.
func ObjectKey(albumID, filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	if !imageExtensions[ext] {
		ext = "jpg"
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "pictures/" + albumID + "/" + id + "." + ext
}

// ContentTypeForKey guesses the MIME type from the key extension.
func ContentTypeForKey(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "image/jpeg"
	}
}

func cleanKey(key string) string {
	return strings.TrimLeft(strings.ReplaceAll(strings.TrimSpace(key), "\\", "/"), "/")
}
