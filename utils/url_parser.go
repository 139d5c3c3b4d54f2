package utils

import (
	"bytes"
	"io"
	"io/ioutil"
	"mime"
	"net/url"
	"strings"
)

// Values of these keys carry timestamps with '+hh:mm' offsets and
// quoted tokens, so they are percent-decoded without turning '+' into a
// space.
var verbatimKeys = map[string]bool{
	"subset":      true,
	"rangesubset": true,
	"time":        true,
}

func ishex(c byte) bool {
	switch {
	case '0' <= c && c <= '9':
		return true
	case 'a' <= c && c <= 'f':
		return true
	case 'A' <= c && c <= 'F':
		return true
	}
	return false
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}

// unescapeVerbatim decodes valid %XX sequences and leaves everything else,
// including '+' and stray '%', untouched.
func unescapeVerbatim(s string) string {
	if strings.IndexByte(s, '%') < 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && ishex(s[i+1]) && ishex(s[i+2]) {
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// ParseQuery splits a raw query string into lower cased keys. Pairs are
// separated by '&' unless escaped as '\&'. The first error is returned
// together with everything that could be parsed.
func ParseQuery(query string) (m url.Values, err error) {
	m = make(url.Values)
	for len(query) > 0 {
		pair := query
		sep := -1
		for i := 0; i < len(pair); i++ {
			if pair[i] == '&' && (i == 0 || pair[i-1] != '\\') {
				sep = i
				break
			}
		}
		if sep >= 0 {
			pair, query = pair[:sep], pair[sep+1:]
		} else {
			query = ""
		}
		if len(pair) == 0 {
			continue
		}

		key, value := pair, ""
		if i := strings.Index(pair, "="); i >= 0 {
			key, value = pair[:i], strings.Replace(pair[i+1:], "\\&", "&", -1)
		}

		k, e := url.QueryUnescape(key)
		if e != nil {
			if err == nil {
				err = e
			}
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))

		if verbatimKeys[k] {
			value = unescapeVerbatim(value)
		} else if value, e = url.QueryUnescape(value); e != nil {
			if err == nil {
				err = e
			}
			continue
		}

		m[k] = append(m[k], value)
	}
	return m, err
}

// IsFormPost reports whether a POST body carries KVP parameters rather
// than an XML document.
func IsFormPost(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/x-www-form-urlencoded"
}

// ReadBody reads at most limit bytes of a request body.
func ReadBody(r io.Reader, limit int64) ([]byte, error) {
	body, err := ioutil.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return nil, err
	}
	return bytes.TrimSpace(body), nil
}
