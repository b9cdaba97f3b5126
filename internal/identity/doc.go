// Package identity provides the stable per-installation device identifier
// and the device-identifying HTTP headers sent with every authorization
// server request.
//
// The device id is a random UUID persisted in the storage directory. It is
// generated once and then reused for the lifetime of the installation so the
// authorization server can recognise the same device across logins.
package identity
