package utils

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	alphabet string = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	length   int    = 22
)

// NanoID Nano ID
func NanoID() string {
	return gonanoid.MustGenerate(alphabet, length)
}
