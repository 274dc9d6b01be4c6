package secret

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

const userdataFile = ".fractal-userdata.json"

type fileData struct {
	Username string `json:"username"`
	Server   string `json:"server"`
	Password string `json:"password"`
	Token    string `json:"token"`
	UID      string `json:"uid,omitempty"`
}

// FileStore keeps credentials in a plaintext JSON file in the user's
// config directory.
type FileStore struct {
	path   string
	logger *logrus.Entry
}

func NewFileStore(configDir string, logger *logrus.Entry) *FileStore {
	return &FileStore{
		path:   filepath.Join(configDir, userdataFile),
		logger: logger,
	}
}

func (f *FileStore) load() (*fileData, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return &fileData{}, nil
	}

	d := &fileData{}
	if err := json.Unmarshal(raw, d); err != nil {
		f.logger.Warnf("discarding corrupt userdata file: %v", err)
		return &fileData{}, nil
	}

	return d, nil
}

func (f *FileStore) save(d *fileData) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return ErrUnavailable
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return ErrUnavailable
	}

	if err := os.WriteFile(f.path, raw, 0o600); err != nil {
		return ErrUnavailable
	}

	return nil
}

func (f *FileStore) StorePassword(username, password, server string) error {
	d, _ := f.load()
	d.Username = username
	d.Password = password
	d.Server = server

	return f.save(d)
}

func (f *FileStore) Password() (string, string, string, error) {
	d, _ := f.load()
	if d.Username == "" || d.Password == "" {
		return "", "", "", ErrUnavailable
	}

	return d.Username, d.Password, d.Server, nil
}

func (f *FileStore) StoreToken(uid, token string) error {
	d, _ := f.load()
	d.UID = uid
	d.Token = token

	return f.save(d)
}

func (f *FileStore) Token() (string, string, error) {
	d, _ := f.load()
	if d.Token == "" {
		return "", "", ErrUnavailable
	}

	return d.Token, d.UID, nil
}

func (f *FileStore) Delete(label string) error {
	d, _ := f.load()

	switch label {
	case LabelPassword:
		d.Username = ""
		d.Password = ""
		d.Server = ""
	case LabelToken:
		d.Token = ""
		d.UID = ""
	default:
		return nil
	}

	return f.save(d)
}
