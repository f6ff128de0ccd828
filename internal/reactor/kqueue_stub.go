//go:build !darwin && !freebsd && !netbsd && !openbsd

package reactor

import "fmt"

func newKqueueBackend(cfg Config) (Backend, error) {
	return nil, fmt.Errorf("reactor: kqueue backend is only available on darwin/bsd")
}
