// Package cache persists a snapshot of the room model so a restart can
// render immediately while the first sync is in flight. The snapshot
// is advisory: a successful sync always overrides it.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/fractal-im/fractal-go/pkg/model"
)

const snapshotFile = "rooms.json"

// ErrIO marks cache read/write problems. Always recoverable.
var ErrIO = errors.New("cache i/o failure")

// Data is the on-disk snapshot shape.
type Data struct {
	Since              string                    `json:"since"`
	Rooms              map[string]*model.Room    `json:"rooms"`
	Username           string                    `json:"username"`
	UID                string                    `json:"uid"`
	LastViewedMessages map[string]*model.Message `json:"last_viewed_messages"`
}

type Cache struct {
	path   string
	logger *logrus.Entry
}

// New returns a cache storing its snapshot under dir.
func New(dir string, logger *logrus.Entry) *Cache {
	return &Cache{
		path:   filepath.Join(dir, snapshotFile),
		logger: logger,
	}
}

// Store writes the snapshot atomically.
func (c *Cache) Store(d *Data) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	c.logger.Debugf("stored %d rooms (since %q)", len(d.Rooms), d.Since)

	return nil
}

// Load reads the snapshot back. A missing or corrupt file yields an
// empty snapshot and ErrIO, never a fatal condition.
func (c *Cache) Load() (*Data, error) {
	empty := &Data{
		Rooms:              make(map[string]*model.Room),
		LastViewedMessages: make(map[string]*model.Message),
	}

	raw, err := os.ReadFile(c.path)
	if err != nil {
		return empty, fmt.Errorf("%w: %v", ErrIO, err)
	}

	d := &Data{}
	if err := json.Unmarshal(raw, d); err != nil {
		c.logger.Warnf("discarding corrupt snapshot %s: %v", c.path, err)
		return empty, fmt.Errorf("%w: %v", ErrIO, err)
	}

	if d.Rooms == nil {
		d.Rooms = make(map[string]*model.Room)
	}

	if d.LastViewedMessages == nil {
		d.LastViewedMessages = make(map[string]*model.Message)
	}

	return d, nil
}

// Destroy removes the snapshot, used on logout.
func (c *Cache) Destroy() error {
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	return nil
}
