// Package util holds helpers shared by the store and the HTTP layer.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns prefix, an underscore and 24 random hex digits. An empty
// prefix yields the digits alone. Pipeline records ("pl") and generated
// request ids ("req") use it.
func NewID(prefix string) string {
	var buf [12]byte
	_, _ = rand.Read(buf[:])
	id := hex.EncodeToString(buf[:])
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
