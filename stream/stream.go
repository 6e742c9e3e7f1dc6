// File: stream/stream.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stream

import (
	"fmt"

	"github.com/momentics/hioload-stream/api"
	"github.com/momentics/hioload-stream/reactor"
)

// FromURL builds a closed stream of the kind rawURL names.
func FromURL(port *reactor.Port, rawURL string, opts ...Option) (api.Stream, error) {
	if port == nil {
		return nil, fmt.Errorf("stream: nil port: %w", api.ErrInvalidArgument)
	}
	u, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	return fromURL(port, u, opts)
}

func fromURL(port *reactor.Port, u *URL, opts []Option) (api.Stream, error) {
	switch u.Kind {
	case api.KindData:
		return newData(port, u, opts), nil
	case api.KindFile:
		return newFile(port, u, 0, opts), nil
	case api.KindSock:
		return newSock(port, u, opts), nil
	case api.KindHTTP:
		return newHTTP(port, u, opts), nil
	case api.KindWS:
		return newWS(port, u, opts), nil
	}
	return nil, fmt.Errorf("stream: %s: %w", u.Kind, api.ErrNotSupported)
}
