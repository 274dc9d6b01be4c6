package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	prefixed "github.com/matterbridge/logrus-prefixed-formatter"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout is applied to interactive requests when the caller
// passes no explicit timeout.
const DefaultTimeout = 30

// Client is a thin typed wrapper over the Matrix client-server API.
// It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	logger     *logrus.Entry
}

func NewClient() *Client {
	rootLogger := logrus.New()
	rootLogger.SetFormatter(&prefixed.TextFormatter{
		PrefixPadding: 13,
		FullTimestamp: true,
	})

	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
			},
		},
		logger: rootLogger.WithFields(logrus.Fields{"prefix": "matrix"}),
	}
}

// SetLogger replaces the client logger, used to hook the client into
// the application-wide logrus instance.
func (c *Client) SetLogger(entry *logrus.Entry) {
	c.logger = entry
}

// RequestJSON performs one API call. method is one of GET, POST, PUT,
// DELETE; body, when non-nil, is marshalled as application/json;
// timeout is in seconds, 0 meaning no timeout. On a 2xx response with
// a JSON body that carries no errcode, the raw body is returned.
func (c *Client) RequestJSON(method, rawurl string, body interface{}, timeout int) (json.RawMessage, error) {
	var reader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecoding, err)
		}

		reader = bytes.NewReader(data)
	}

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, rawurl, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req)
}

// UploadFile posts the file at path to rawurl. The content type is
// detected from the first bytes of the payload. Uploads run without a
// timeout.
func (c *Client) UploadFile(rawurl, path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	return c.Upload(rawurl, data)
}

// Upload posts raw bytes to rawurl with a sniffed content type.
func (c *Client) Upload(rawurl string, data []byte) (json.RawMessage, error) {
	req, err := http.NewRequest(http.MethodPost, rawurl, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	req.Header.Set("Content-Type", http.DetectContentType(data))

	return c.do(req)
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	c.logger.Debugf("%s %s", req.Method, req.URL.Redacted())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newServerError(resp.StatusCode, data)
	}

	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: HTTP %d with non-JSON body", ErrDecoding, resp.StatusCode)
	}

	// Some endpoints report logical failures with a 2xx status; an
	// errcode field marks those.
	var probe struct {
		ErrCode string `json:"errcode"`
	}
	if err := json.Unmarshal(data, &probe); err == nil && probe.ErrCode != "" {
		return nil, newServerError(resp.StatusCode, data)
	}

	return data, nil
}

// RequestInto performs an API call and unmarshals the result into out.
func (c *Client) RequestInto(method, rawurl string, body, out interface{}, timeout int) error {
	data, err := c.RequestJSON(method, rawurl, body, timeout)
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrDecoding, err)
	}

	return nil
}

// DownloadToFile streams the body of a GET to dest. The download runs
// without a timeout; cancellation is the caller's context deadline on
// the surrounding operation.
func (c *Client) DownloadToFile(rawurl, dest string) error {
	req, err := http.NewRequest(http.MethodGet, rawurl, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return newServerError(resp.StatusCode, data)
	}

	// A private temp file per download keeps concurrent fetches of
	// the same media id from truncating each other mid-write.
	f, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".part*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	tmp := f.Name()

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)

		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	return nil
}
