// Package envelope implements RSA envelope encryption of opaque byte payloads.
//
// Envelope encryption uses a combination of asymmetric encryption and symmetric encryption; since asymmetric encryption is
// slow and has size limits, we generate a random symmetric session key for each encryption operation, use that to encrypt
// the data with an AEAD, then encrypt (wrap) the session key with the recipient's RSA public key. The recipient uses their
// RSA private key to unwrap the session key, then uses that to authenticate and decrypt the data.
//
// Key wrapping uses RSA-OAEP with SHA-256. Bulk encryption uses AES-256-GCM by default, or ChaCha20-Poly1305. Both AEADs
// use a 12 byte nonce and a 16 byte tag. The wrapped key is passed to the AEAD as associated data.
//
// A single-shot envelope is laid out as follows, where k is the size of the RSA modulus in bytes (256 for RSA-2048):
//
//	offset 0       k bytes   wrapped session key
//	offset k       12 bytes  nonce
//	offset k+12    16 bytes  tag
//	offset k+28    n bytes   ciphertext, n = len(plaintext)
//
// The AEAD is a parameter agreed by both parties and is not recorded in a single-shot envelope.
//
// Inputs too large to hold in memory are encrypted as a stream of individually authenticated chunks. A stream starts with a
// header:
//
//	"SEALER" | version (1 byte) | cipher id (1 byte) | chunk size (uint32, big endian) | wrapped session key (k bytes) | nonce prefix (7 bytes)
//
// followed by chunks of chunk size plaintext bytes, each sealed to ciphertext||tag. The last chunk may be shorter and is
// never absent; an empty input is a single empty final chunk. Chunk i is sealed with nonce prefix||uint32(i)||final, where
// final is 1 for the last chunk and 0 otherwise, and the full header as associated data. A chunk is only released to the
// caller after its tag has been verified, and truncating, reordering or extending a stream causes decryption to fail.
//
// In some documentation, the asymmetric key is called the "key encryption key" (KEK) and the symmetric key is called the
// "data encryption key" (DEK).
package envelope
