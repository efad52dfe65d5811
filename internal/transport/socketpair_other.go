//go:build !unix

package transport

import "fmt"

func openSocketLink() (Link, error) {
	return Link{}, fmt.Errorf("%w: socketpair needs a unix host", ErrUnsupportedKind)
}
