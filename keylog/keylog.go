// Package keylog writes TLS secrets in the NSS key log format, which
// Wireshark uses to decrypt captured traffic.
//
// The environment is read only when FromEnv is called; clients call it once
// at construction.
package keylog

import (
	"io"
	"os"
	"sync"
)

// EnvVar names the file that FromEnv opens.
const EnvVar = "SSLKEYLOGFILE"

// Writer serializes key log lines from concurrent handshakes onto one file.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// New wraps w.
func New(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Open appends to the file at path, creating it with mode 0600.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return nil, err
	}
	return &Writer{w: f}, nil
}

// FromEnv opens the file named by SSLKEYLOGFILE. It returns nil, nil when
// the variable is unset.
func FromEnv() (*Writer, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, nil
	}
	return Open(path)
}

func (k *Writer) Write(p []byte) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.w.Write(p)
}

// Close closes the underlying file if Writer opened one.
func (k *Writer) Close() error {
	if k == nil {
		return nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if c, ok := k.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
