package envelope

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"k8s.io/klog/v2"

	"github.com/jetstack/sealer/pkg/logs"
)

const (
	streamMagic     = "SEALER"
	streamVersion   = 1
	noncePrefixSize = 7

	// magic, version, cipher id and chunk size precede the wrapped key
	fixedHeaderSize = len(streamMagic) + 1 + 1 + 4
)

// maxChunks is the number of distinct chunk counters. It is a variable so tests can exercise the overflow path.
var maxChunks uint64 = 1 << 32

// EncryptStream reads plaintext from r until EOF and writes a chunked envelope to w.
//
// Each chunk is sealed separately with a nonce derived from a random prefix, the chunk counter and a flag marking the
// final chunk; the stream header is the associated data of every chunk. Chunks cannot be reordered, dropped or
// truncated without the decryptor noticing. Empty input yields a single empty final chunk.
func (e *Encryptor) EncryptStream(ctx context.Context, w io.Writer, r io.Reader) error {
	log := klog.FromContext(ctx).WithName("envelope")

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("encryption cancelled: %w", err)
	}

	s, err := e.newSession(e.opts.cipher)
	if err != nil {
		return err
	}

	header := make([]byte, 0, fixedHeaderSize+len(s.wrappedKey)+noncePrefixSize)
	header = append(header, streamMagic...)
	header = append(header, streamVersion, byte(e.opts.cipher))
	header = binary.BigEndian.AppendUint32(header, uint32(e.opts.chunkSize))
	header = append(header, s.wrappedKey...)

	prefix := make([]byte, noncePrefixSize)
	if _, err := io.ReadFull(e.opts.random, prefix); err != nil {
		return fmt.Errorf("%w: failed to generate nonce prefix: %w", ErrEncryption, err)
	}
	header = append(header, prefix...)

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write stream header: %w", err)
	}

	br := bufio.NewReader(r)
	buf := make([]byte, e.opts.chunkSize)
	out := make([]byte, 0, e.opts.chunkSize+TagSize)
	nonce := make([]byte, NonceSize)

	var total int64
	for i := uint64(0); ; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("encryption cancelled: %w", err)
		}

		if i >= maxChunks {
			return fmt.Errorf("%w: stream exceeds %d chunks", ErrEncryption, maxChunks)
		}

		n, final, err := readChunk(br, buf)
		if err != nil {
			return fmt.Errorf("failed to read plaintext: %w", err)
		}

		chunkNonce(nonce, prefix, i, final)
		out = s.aead.Seal(out[:0], nonce, buf[:n], header)
		if _, err := w.Write(out); err != nil {
			return fmt.Errorf("failed to write chunk %d: %w", i, err)
		}
		total += int64(n)

		if final {
			log.V(logs.Debug).Info("Encrypted stream", "cipher", e.opts.cipher.String(), "chunks", i+1, "bytes", total)
			return nil
		}
	}
}

// readChunk fills buf from r. The chunk is final when r is exhausted, which is detected by peeking one byte past
// a full chunk so that input that is an exact multiple of the chunk size does not need a trailing empty chunk.
func readChunk(r *bufio.Reader, buf []byte) (int, bool, error) {
	n, err := io.ReadFull(r, buf)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return n, true, nil
	case err != nil:
		return n, false, err
	}

	if _, err := r.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return n, true, nil
		}
		return n, false, err
	}

	return n, false, nil
}

func chunkNonce(nonce, prefix []byte, counter uint64, final bool) {
	copy(nonce, prefix)
	binary.BigEndian.PutUint32(nonce[noncePrefixSize:], uint32(counter))
	nonce[NonceSize-1] = 0
	if final {
		nonce[NonceSize-1] = 1
	}
}

// DecryptStream reads a chunked envelope from r and writes the plaintext to w. A chunk is written only after its tag
// has verified, so on error w holds at most a verified prefix of the plaintext. Callers that need all-or-nothing
// output should write to a temporary destination, as DecryptFile does.
//
// The cipher and chunk size are taken from the stream header; the chunk size is checked against MinChunkSize and
// MaxChunkSize before any buffer is allocated.
func (d *Decryptor) DecryptStream(ctx context.Context, w io.Writer, r io.Reader) error {
	log := klog.FromContext(ctx).WithName("envelope")

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("decryption cancelled: %w", err)
	}

	br := bufio.NewReader(r)

	header, c, chunkSize, err := d.readHeader(br)
	if err != nil {
		return err
	}

	k := d.privateKey.Size()
	wrappedKey := header[fixedHeaderSize : fixedHeaderSize+k]
	prefix := header[fixedHeaderSize+k:]

	aead, err := d.openSession(c, wrappedKey)
	if err != nil {
		return err
	}

	buf := make([]byte, chunkSize+TagSize)
	nonce := make([]byte, NonceSize)

	var total int64
	for i := uint64(0); ; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("decryption cancelled: %w", err)
		}

		if i >= maxChunks {
			return ErrAuthentication
		}

		n, err := io.ReadFull(br, buf)
		final := false
		switch {
		case errors.Is(err, io.EOF):
			// The previous chunk was not marked final, so the stream has been cut short.
			return ErrAuthentication
		case errors.Is(err, io.ErrUnexpectedEOF):
			final = true
		case err != nil:
			return fmt.Errorf("failed to read chunk %d: %w", i, err)
		default:
			if _, err := br.Peek(1); err != nil {
				if !errors.Is(err, io.EOF) {
					return fmt.Errorf("failed to read chunk %d: %w", i, err)
				}
				final = true
			}
		}

		if n < TagSize {
			return fmt.Errorf("%w: chunk %d is %d bytes, shorter than its tag", ErrMalformedEnvelope, i, n)
		}

		chunkNonce(nonce, prefix, i, final)
		plaintext, err := aead.Open(buf[:0], nonce, buf[:n], header)
		if err != nil {
			return ErrAuthentication
		}

		if _, err := w.Write(plaintext); err != nil {
			return fmt.Errorf("failed to write plaintext: %w", err)
		}
		total += int64(len(plaintext))

		if final {
			log.V(logs.Debug).Info("Decrypted stream", "cipher", c.String(), "chunks", i+1, "bytes", total)
			return nil
		}
	}
}

// readHeader reads and validates the stream header and returns its raw bytes for use as associated data.
func (d *Decryptor) readHeader(r io.Reader) ([]byte, Cipher, int, error) {
	k := d.privateKey.Size()
	header := make([]byte, fixedHeaderSize+k+noncePrefixSize)

	if _, err := io.ReadFull(r, header[:fixedHeaderSize]); err != nil {
		return nil, 0, 0, headerReadError(err)
	}

	if !bytes.Equal(header[:len(streamMagic)], []byte(streamMagic)) {
		return nil, 0, 0, fmt.Errorf("%w: not a chunked stream", ErrMalformedEnvelope)
	}

	if v := header[len(streamMagic)]; v != streamVersion {
		return nil, 0, 0, fmt.Errorf("%w: unsupported stream version %d", ErrMalformedEnvelope, v)
	}

	c := Cipher(header[len(streamMagic)+1])
	if !c.Valid() {
		return nil, 0, 0, fmt.Errorf("%w: unsupported cipher id %d", ErrMalformedEnvelope, uint8(c))
	}

	chunkSize := binary.BigEndian.Uint32(header[len(streamMagic)+2 : fixedHeaderSize])
	if chunkSize < MinChunkSize || chunkSize > MaxChunkSize {
		return nil, 0, 0, fmt.Errorf("%w: chunk size %d out of range", ErrMalformedEnvelope, chunkSize)
	}

	if _, err := io.ReadFull(r, header[fixedHeaderSize:]); err != nil {
		return nil, 0, 0, headerReadError(err)
	}

	return header, c, int(chunkSize), nil
}

func headerReadError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: stream header is truncated", ErrMalformedEnvelope)
	}
	return fmt.Errorf("failed to read stream header: %w", err)
}
