package identity

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
)

// Header names sent to the authorization server.
const (
	HeaderPlatform    = "X-Msh-Platform"
	HeaderVersion     = "X-Msh-Version"
	HeaderDeviceName  = "X-Msh-Device-Name"
	HeaderDeviceModel = "X-Msh-Device-Model"
	HeaderOSVersion   = "X-Msh-Os-Version"
	HeaderDeviceID    = "X-Msh-Device-Id"
)

// HeaderBuilder produces the device-identifying request headers.
type HeaderBuilder struct {
	ids      *Manager
	platform string
	version  string
	hostname func() (string, error)
}

// NewHeaderBuilder creates a HeaderBuilder reporting the given client
// platform and version.
func NewHeaderBuilder(ids *Manager, platform, version string) *HeaderBuilder {
	return &HeaderBuilder{
		ids:      ids,
		platform: platform,
		version:  version,
		hostname: os.Hostname,
	}
}

// Build returns the header set. Its signature matches oauth.HeaderFunc.
func (b *HeaderBuilder) Build(_ context.Context) (http.Header, error) {
	id, err := b.ids.DeviceID()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve device id: %w", err)
	}

	host, err := b.hostname()
	if err != nil {
		host = "unknown"
	}

	h := http.Header{}
	h.Set(HeaderPlatform, b.platform)
	h.Set(HeaderVersion, b.version)
	h.Set(HeaderDeviceName, host)
	h.Set(HeaderDeviceModel, runtime.GOOS+"-"+runtime.GOARCH)
	h.Set(HeaderOSVersion, osVersion())
	h.Set(HeaderDeviceID, id)
	return h, nil
}
