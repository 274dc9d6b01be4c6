// Package secret stores the homeserver credentials. Two backends are
// interchangeable behind Store: the desktop Secret Service over D-Bus
// and a plaintext JSON file. Any backend failure is collapsed into
// ErrUnavailable; callers treat that as "no credentials available"
// and route to the login path.
package secret

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// Labels under which entries are persisted.
const (
	LabelPassword = "fractal"
	LabelToken    = "fractal-token"

	// legacyLabel is the pre-rename label still found in old keyrings;
	// entries under it are migrated on first read.
	legacyLabel = "guillotine"
)

// ErrUnavailable is the single error surfaced to callers.
var ErrUnavailable = errors.New("credential store unavailable")

type Store interface {
	StorePassword(username, password, server string) error
	Password() (username, password, server string, err error)
	StoreToken(uid, token string) error
	Token() (token, uid string, err error)
	Delete(label string) error
}

// Open selects the backend once at startup. backend is "keyring" or
// "file"; an unusable keyring falls back to the file backend so a
// missing desktop session never blocks login.
func Open(backend, configDir string, logger *logrus.Entry) Store {
	if backend != "file" {
		ks, err := NewKeyringStore(logger)
		if err == nil {
			return ks
		}

		logger.Warnf("secret service unavailable (%v), falling back to plaintext store", err)
	}

	return NewFileStore(configDir, logger)
}
