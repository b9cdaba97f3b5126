//go:build !unix

package identity

import "runtime"

func osVersion() string {
	return runtime.GOOS
}
