// Package blob stores original, processed, thumbnail and stream assets under
// slash-separated, video-id-keyed object keys.
package blob

import (
	"context"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Info struct {
	Key         string
	Size        int64
	ContentType string
	ModTime     time.Time
}

// Object is an open, seekable asset. Callers must Close it.
type Object interface {
	io.ReadSeekCloser
	Info() Info
}

type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (Object, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

func OriginalKey(videoID uuid.UUID, filename string) string {
	return path.Join("originals", videoID.String(), path.Base(filename))
}

func ProcessedKey(videoID uuid.UUID) string {
	return path.Join("processed", videoID.String(), "video.mp4")
}

func ThumbnailKey(videoID uuid.UUID) string {
	return path.Join("thumbnails", videoID.String(), "thumb.jpg")
}

func HLSKey(videoID uuid.UUID) string {
	return path.Join("streams", videoID.String(), "hls", "playlist.m3u8")
}

func DASHKey(videoID uuid.UUID) string {
	return path.Join("streams", videoID.String(), "dash", "manifest.mpd")
}

// ContentTypeFor guesses a content type from the key extension.
func ContentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".mpd":
		return "application/dash+xml"
	case ".ts":
		return "video/MP2T"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".avi":
		return "video/x-msvideo"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	}
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}
