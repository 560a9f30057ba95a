//go:build !linux && !darwin

package server

import (
	"net"

	"github.com/legamerdc/cosched"
)

func openListener(Config) (int, net.Addr, error) {
	return -1, nil, cosched.ErrPlatformNotSupported
}

func closeFD(int) error { return cosched.ErrPlatformNotSupported }

func newAcceptTask(*Server) cosched.Task {
	return cosched.TaskFunc(func() cosched.Outcome {
		return cosched.Failed(cosched.ErrPlatformNotSupported)
	})
}
