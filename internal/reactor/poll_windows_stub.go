//go:build windows

package reactor

import "fmt"

func newPollBackend(cfg Config) (Backend, error) {
	return nil, fmt.Errorf("reactor: poll backend is not implemented on windows")
}
