package envelope

// StreamHeaderSize returns the stream header length for a k byte RSA modulus.
func StreamHeaderSize(k int) int {
	return fixedHeaderSize + k + noncePrefixSize
}

// SetMaxChunks lowers the chunk limit for the duration of a test.
func SetMaxChunks(n uint64) (restore func()) {
	old := maxChunks
	maxChunks = n
	return func() { maxChunks = old }
}
