// Package credentials persists the OAuth token set for a single local client.
//
// Tokens are written to oauth.json in the storage directory as an encrypted
// envelope:
//
//	{"encrypted": "<base64(iv || tag || ciphertext)>"}
//
// The decrypted payload is the token record: the token response fields plus
// an absolute expires_at in Unix milliseconds and the device id. Files
// written by older releases in the plaintext record shape are read
// transparently and re-encrypted on first successful read.
//
// Reading a token that expires within the refresh window triggers a refresh
// through Rotate. Rotate is single-flighted per token file, so the read path
// and the background refresh scheduler never redeem the same refresh token
// twice.
//
// SECURITY: token values are never logged. Security-relevant operations emit
// SECURITY_AUDIT log lines with event names only.
package credentials
