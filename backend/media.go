package backend

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fractal-im/fractal-go/pkg/matrix"
)

const (
	thumbDir = "thumbs"
	mediaDir = "medias"

	defaultThumbSize   = 64
	defaultThumbMethod = "scale"

	// explicitDestTTL is how long an explicitly destined download is
	// considered fresh before it is re-fetched.
	explicitDestTTL = 60 * time.Second
)

// fetchMedia downloads url to dest unless a fresh cached copy exists.
// Default destinations are served from cache whenever the file exists;
// explicit destinations are re-fetched after explicitDestTTL. Every
// download holds one permit of the media semaphore so a large room
// view cannot starve the sync loop.
func (b *Backend) fetchMedia(url, dest string, explicit bool) (string, error) {
	if info, err := os.Stat(dest); err == nil {
		if !explicit || time.Since(info.ModTime()) < explicitDestTTL {
			return dest, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
		return "", err
	}

	if err := b.mediaSem.Acquire(context.Background(), 1); err != nil {
		return "", err
	}
	defer b.mediaSem.Release(1)

	if err := b.api.DownloadToFile(url, dest); err != nil {
		return "", err
	}

	return dest, nil
}

func (b *Backend) thumbPath(mediaID string) string {
	return filepath.Join(b.cfg.CacheDir, thumbDir, mediaID)
}

func (b *Backend) mediaPath(mediaID string) string {
	return filepath.Join(b.cfg.CacheDir, mediaDir, mediaID)
}

// getThumbAsync resolves and fetches a thumbnail, answering on reply
// with the cached path, or "" so the UI renders its placeholder.
func (b *Backend) getThumbAsync(mxc string, width, height int, reply chan<- string) {
	if width <= 0 {
		width = defaultThumbSize
	}

	if height <= 0 {
		height = defaultThumbSize
	}

	path, err := b.fetchThumb(mxc, width, height)
	if err != nil {
		b.logger.Debugf("thumbnail %s: %v", mxc, err)
		path = ""
	}

	reply <- path
}

func (b *Backend) fetchThumb(mxc string, width, height int) (string, error) {
	base, _, _ := b.snapshotCreds()

	_, mediaID, ok := matrix.ParseMXC(mxc)
	if !ok {
		return "", matrix.ErrDecoding
	}

	url, err := matrix.ThumbnailURL(base, mxc, width, height, defaultThumbMethod)
	if err != nil {
		return "", err
	}

	return b.fetchMedia(url, b.thumbPath(mediaID), false)
}

func (b *Backend) getMediaAsync(mxc string, reply chan<- string) {
	path, err := b.fetchFullMedia(mxc)
	if err != nil {
		b.logger.Debugf("media %s: %v", mxc, err)
		path = ""
	}

	reply <- path
}

func (b *Backend) getMedia(mxc string) {
	path, err := b.fetchFullMedia(mxc)
	if err != nil {
		b.logger.Debugf("media %s: %v", mxc, err)
		path = ""
	}

	b.send(&Response{Type: RespMedia, Data: MediaData{MXC: mxc, Path: path}})
}

func (b *Backend) fetchFullMedia(mxc string) (string, error) {
	base, _, _ := b.snapshotCreds()

	_, mediaID, ok := matrix.ParseMXC(mxc)
	if !ok {
		return "", matrix.ErrDecoding
	}

	url, err := matrix.DownloadURL(base, mxc)
	if err != nil {
		return "", err
	}

	return b.fetchMedia(url, b.mediaPath(mediaID), false)
}
