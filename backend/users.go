package backend

import (
	"net/http"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/fractal-im/fractal-go/pkg/identicon"
	"github.com/fractal-im/fractal-go/pkg/matrix"
)

// userInfoTTL is how long a cached (name, avatar) pair stays fresh.
const userInfoTTL = 3600 * time.Second

const userCacheSize = 500

// userEntry is reserved in the cache before its worker starts, so
// concurrent misses for the same uid share one fetch. done is closed
// once name and avatar are filled in.
type userEntry struct {
	uid       string
	name      string
	avatar    string
	fetchedAt time.Time
	done      chan struct{}
}

type userCache struct {
	b *Backend

	mu      sync.Mutex
	entries *lru.Cache
}

func newUserCache(b *Backend) *userCache {
	entries, _ := lru.New(userCacheSize)

	return &userCache{
		b:       b,
		entries: entries,
	}
}

// getAsync answers on reply with (displayName, avatarPath), fetching
// the profile when the cache has no fresh entry. The send happens on
// a worker, never on the dispatcher.
func (c *userCache) getAsync(uid string, reply chan<- [2]string) {
	entry := c.reserve(uid)

	go func() {
		<-entry.done

		if reply != nil {
			reply <- [2]string{entry.name, entry.avatar}
		}
	}()
}

// get blocks until the entry is filled and returns it.
func (c *userCache) get(uid string) (name, avatar string) {
	entry := c.reserve(uid)
	<-entry.done

	return entry.name, entry.avatar
}

// reserve returns the fresh entry for uid, inserting a reserved slot
// and spawning the fill worker when there is none.
func (c *userCache) reserve(uid string) *userEntry {
	c.mu.Lock()

	if v, ok := c.entries.Get(uid); ok {
		entry := v.(*userEntry)

		select {
		case <-entry.done:
			if time.Since(entry.fetchedAt) < userInfoTTL {
				c.mu.Unlock()
				return entry
			}
			// Stale: fall through and replace it.
		default:
			// A fill is already in flight; share it.
			c.mu.Unlock()
			return entry
		}
	}

	entry := &userEntry{
		uid:  uid,
		done: make(chan struct{}),
	}
	c.entries.Add(uid, entry)
	c.mu.Unlock()

	go c.fill(entry)

	return entry
}

func (c *userCache) fill(entry *userEntry) {
	defer close(entry.done)

	name, avatar := c.b.fetchUserInfo(entry.uid)
	entry.name = name
	entry.avatar = avatar
	entry.fetchedAt = time.Now()
}

// fetchUserInfo resolves uid to (display name, avatar path), falling
// back to the uid and a generated identicon.
func (b *Backend) fetchUserInfo(uid string) (string, string) {
	name := uid
	avatarURL := ""

	url, err := b.clientURL("profile/"+uid, nil)
	if err == nil {
		var resp matrix.ProfileResponse
		if err := b.api.RequestInto(http.MethodGet, url, nil, &resp, matrix.DefaultTimeout); err == nil {
			if resp.DisplayName != "" {
				name = resp.DisplayName
			}

			avatarURL = resp.AvatarURL
		}
	}

	return name, b.downloadAvatar(uid, name, avatarURL)
}

// downloadAvatar fetches the avatar thumbnail for uid to the per-user
// cache path, rendering an identicon when there is no avatar URL.
// Failures resolve to "" and the UI shows its placeholder.
func (b *Backend) downloadAvatar(uid, name, avatarURL string) string {
	dest := filepath.Join(b.cfg.CacheDir, uid)

	if avatarURL == "" {
		path, err := identicon.Render(dest, uid, name)
		if err != nil {
			b.logger.Debugf("identicon for %s: %v", uid, err)
			return ""
		}

		return path
	}

	base, _, _ := b.snapshotCreds()

	url, err := matrix.ThumbnailURL(base, avatarURL, defaultThumbSize, defaultThumbSize, defaultThumbMethod)
	if err != nil {
		return ""
	}

	path, err := b.fetchMedia(url, dest, true)
	if err != nil {
		b.logger.Debugf("avatar for %s: %v", uid, err)
		return ""
	}

	return path
}

// userAvatar is the convenience used by GetAvatar for the logged-in
// account.
func (b *Backend) userAvatar(uid string) (string, error) {
	_, avatar := b.users.get(uid)
	if avatar == "" {
		return "", matrix.ErrNetwork
	}

	return avatar, nil
}
