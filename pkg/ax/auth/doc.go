// Package auth implements the OAuth 2.0 device authorization grant used by the
// ax CLI: device code acquisition, the token polling state machine, and
// persistence of granted tokens via keychain or file storage.
package auth
