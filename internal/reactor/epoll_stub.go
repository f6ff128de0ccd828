//go:build !linux

package reactor

import "fmt"

func newEpollBackend(cfg Config) (Backend, error) {
	return nil, fmt.Errorf("reactor: epoll backend is only available on linux")
}
