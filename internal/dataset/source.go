// Package dataset acquires fixture datasets: resumable downloads, archive
// extraction, workspace cleanup, and disk-usage reporting.
package dataset

import (
	"fmt"
	"net/url"
	"strings"
)

// SourceKind discriminates supported dataset locations.
type SourceKind string

const (
	SourceHTTP SourceKind = "http"
	SourceS3   SourceKind = "s3"
)

// Source is a parsed dataset location.
type Source struct {
	Kind SourceKind

	// URL is the full fetch URL for HTTP sources.
	URL string

	// Bucket and Key are set for s3:// sources.
	Bucket string
	Key    string
}

// ParseSource classifies a dataset location string. Accepted forms are
// http://, https://, and s3://bucket/key.
func ParseSource(raw string) (Source, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Source{}, fmt.Errorf("empty dataset source")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Source{}, fmt.Errorf("parsing dataset source %q: %w", raw, err)
	}

	switch u.Scheme {
	case "http", "https":
		return Source{Kind: SourceHTTP, URL: raw}, nil
	case "s3":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return Source{}, fmt.Errorf("s3 source %q must be s3://bucket/key", raw)
		}
		return Source{Kind: SourceS3, Bucket: u.Host, Key: key}, nil
	default:
		return Source{}, fmt.Errorf("unsupported dataset source scheme %q", u.Scheme)
	}
}

// Base returns the final path element of the source, used as the local
// archive filename.
func (s Source) Base() string {
	var p string
	switch s.Kind {
	case SourceS3:
		p = s.Key
	default:
		if u, err := url.Parse(s.URL); err == nil {
			p = u.Path
		}
	}
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	if p == "" {
		p = "dataset.tar.gz"
	}
	return p
}
