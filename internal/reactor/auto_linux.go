//go:build linux

package reactor

func autoKind() Kind { return KindEpoll }
