// Package store persists the encoded canvas as a single blob that is
// overwritten wholesale on every save.
package store

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
)

// ErrNotExist is returned by Load when nothing has been saved yet.
var ErrNotExist = fs.ErrNotExist

type Store interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	Close() error
}

// Open selects a backend from target: a bare path or file:// URL, a
// redis:// URL, or a postgres:// URL.
func Open(ctx context.Context, target string) (Store, error) {
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// bare path, including windows drive letters
		return NewFileStore(target), nil
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		if u.Path == "" || (u.Host != "" && u.Host != "localhost") {
			return nil, fmt.Errorf("file store %q: want file:///path or a bare path", target)
		}
		return NewFileStore(u.Path), nil
	case "redis", "rediss":
		s, err := OpenRedis(ctx, target)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres", "postgresql":
		s, err := OpenPostgres(ctx, target)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	return nil, fmt.Errorf("unsupported canvas store scheme %q", u.Scheme)
}
