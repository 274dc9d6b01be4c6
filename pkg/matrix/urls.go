package matrix

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	clientPrefix = "/_matrix/client/r0/"
	mediaPrefix  = "/_matrix/media/r0/"
	scalarPrefix = "api/"
)

// Param is one query parameter. Parameters are kept as an ordered list
// so the resulting query string is reproducible.
type Param struct {
	Key   string
	Value string
}

// BuildURL joins fragment under base, drops any query string already
// present on base and appends params in order.
func BuildURL(base, fragment string, params []Param) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(fragment, "/")
	u.RawPath = escapePath(u.Path)
	u.RawQuery = ""
	u.Fragment = ""

	if len(params) > 0 {
		var q strings.Builder

		for i, p := range params {
			if i > 0 {
				q.WriteByte('&')
			}

			q.WriteString(url.QueryEscape(p.Key))
			q.WriteByte('=')
			q.WriteString(url.QueryEscape(p.Value))
		}

		u.RawQuery = q.String()
	}

	return u.String(), nil
}

// escapePath percent-encodes only the bytes RFC 3986 forbids in a
// path, so the sub-delims Matrix identifiers carry (!, $, +, ...) stay
// readable in request lines and logs.
func escapePath(path string) string {
	var b strings.Builder

	for i := 0; i < len(path); i++ {
		c := path[i]

		if pathByteOK(c) {
			b.WriteByte(c)
			continue
		}

		b.WriteString(fmt.Sprintf("%%%02X", c))
	}

	return b.String()
}

func pathByteOK(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}

	switch c {
	case '-', '.', '_', '~', '/', ':', '@',
		'!', '$', '&', '\'', '(', ')', '*', '+', ',', ';', '=':
		return true
	}

	return false
}

// ClientURL builds a URL under the client-server API prefix.
func ClientURL(base, fragment string, params []Param) (string, error) {
	return BuildURL(base, clientPrefix+strings.TrimPrefix(fragment, "/"), params)
}

// MediaURL builds a URL under the media repository prefix.
func MediaURL(base, fragment string, params []Param) (string, error) {
	return BuildURL(base, mediaPrefix+strings.TrimPrefix(fragment, "/"), params)
}

// ScalarURL builds a URL under the scalar widget API prefix.
func ScalarURL(base, fragment string, params []Param) (string, error) {
	return BuildURL(base, scalarPrefix+strings.TrimPrefix(fragment, "/"), params)
}

// ParseMXC splits an mxc://server/mediaID URI. ok is false for
// anything that is not a well-formed mxc URI.
func ParseMXC(mxc string) (server, mediaID string, ok bool) {
	u, err := url.Parse(mxc)
	if err != nil || u.Scheme != "mxc" || u.Host == "" {
		return "", "", false
	}

	mediaID = strings.TrimPrefix(u.Path, "/")
	if mediaID == "" {
		return "", "", false
	}

	return u.Host, mediaID, true
}

// DownloadURL resolves an mxc URI to its media download URL.
func DownloadURL(base, mxc string) (string, error) {
	server, mediaID, ok := ParseMXC(mxc)
	if !ok {
		return "", ErrDecoding
	}

	return MediaURL(base, "download/"+server+"/"+mediaID, nil)
}

// ThumbnailURL resolves an mxc URI to a thumbnail URL with the given
// dimensions and scaling method.
func ThumbnailURL(base, mxc string, width, height int, method string) (string, error) {
	server, mediaID, ok := ParseMXC(mxc)
	if !ok {
		return "", ErrDecoding
	}

	return MediaURL(base, "thumbnail/"+server+"/"+mediaID, []Param{
		{"width", strconv.Itoa(width)},
		{"height", strconv.Itoa(height)},
		{"method", method},
	})
}
