package secret

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)

	return l.WithField("prefix", "test")
}

func TestFileStorePasswordRoundTrip(t *testing.T) {
	s := NewFileStore(t.TempDir(), testLogger())

	require.NoError(t, s.StorePassword("alice", "s3cret", "https://matrix.org"))

	user, pass, server, err := s.Password()
	require.NoError(t, err)
	assert.Equal(t, "alice", user)
	assert.Equal(t, "s3cret", pass)
	assert.Equal(t, "https://matrix.org", server)
}

func TestFileStoreTokenRoundTrip(t *testing.T) {
	s := NewFileStore(t.TempDir(), testLogger())

	require.NoError(t, s.StoreToken("@alice:matrix.org", "tk"))

	token, uid, err := s.Token()
	require.NoError(t, err)
	assert.Equal(t, "tk", token)
	assert.Equal(t, "@alice:matrix.org", uid)
}

func TestFileStoreDelete(t *testing.T) {
	s := NewFileStore(t.TempDir(), testLogger())

	require.NoError(t, s.StorePassword("alice", "s3cret", "https://matrix.org"))
	require.NoError(t, s.StoreToken("@alice:matrix.org", "tk"))

	require.NoError(t, s.Delete(LabelPassword))

	_, _, _, err := s.Password()
	assert.ErrorIs(t, err, ErrUnavailable)

	// Token entry survives the password delete.
	token, _, err := s.Token()
	require.NoError(t, err)
	assert.Equal(t, "tk", token)

	require.NoError(t, s.Delete(LabelToken))

	_, _, err = s.Token()
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFileStoreEmpty(t *testing.T) {
	s := NewFileStore(t.TempDir(), testLogger())

	_, _, _, err := s.Password()
	assert.ErrorIs(t, err, ErrUnavailable)

	_, _, err = s.Token()
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFileStoreCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, userdataFile), []byte("{oops"), 0o600))

	s := NewFileStore(dir, testLogger())

	_, _, _, err := s.Password()
	assert.ErrorIs(t, err, ErrUnavailable)

	// A corrupt file is overwritten by the next store.
	require.NoError(t, s.StorePassword("alice", "pw", "srv"))

	_, pass, _, err := s.Password()
	require.NoError(t, err)
	assert.Equal(t, "pw", pass)
}

func TestFileStorePermissions(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir, testLogger())

	require.NoError(t, s.StorePassword("alice", "pw", "srv"))

	info, err := os.Stat(filepath.Join(dir, userdataFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestOpenFallsBackToFile(t *testing.T) {
	// Without a session bus address the keyring backend cannot start.
	t.Setenv("DBUS_SESSION_BUS_ADDRESS", "unix:path=/nonexistent")

	s := Open("keyring", t.TempDir(), testLogger())
	_, ok := s.(*FileStore)
	assert.True(t, ok)
}
