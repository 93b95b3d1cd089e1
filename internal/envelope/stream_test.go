package envelope_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2/ktesting"

	"github.com/jetstack/sealer/internal/envelope"
	"github.com/jetstack/sealer/pkg/testutil"
)

const testChunkSize = envelope.MinChunkSize

// encryptStream encrypts data with testChunkSize chunks.
func encryptStream(t *testing.T, data []byte, opts ...envelope.Option) []byte {
	t.Helper()
	_, ctx := ktesting.NewTestContext(t)

	opts = append([]envelope.Option{envelope.WithChunkSize(testChunkSize)}, opts...)
	enc, err := envelope.NewEncryptor(&testutil.TestKey().PublicKey, opts...)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, enc.EncryptStream(ctx, &out, bytes.NewReader(data)))
	return out.Bytes()
}

func decryptStream(t *testing.T, stream []byte) ([]byte, error) {
	t.Helper()
	_, ctx := ktesting.NewTestContext(t)

	dec, err := envelope.NewDecryptor(testutil.TestKey())
	require.NoError(t, err)

	var out bytes.Buffer
	err = dec.DecryptStream(ctx, &out, bytes.NewReader(stream))
	return out.Bytes(), err
}

func headerSize() int {
	return envelope.StreamHeaderSize(testutil.TestKey().Size())
}

func TestStream_RoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		size       int
		wantChunks int
	}{
		{"empty", 0, 1},
		{"single byte", 1, 1},
		{"one short of a chunk", testChunkSize - 1, 1},
		{"exactly one chunk", testChunkSize, 1},
		{"one past a chunk", testChunkSize + 1, 2},
		{"exact multiple", 3 * testChunkSize, 3},
		{"several chunks and a tail", 3*testChunkSize + 17, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := testutil.RandomBytes(t, tt.size)

			stream := encryptStream(t, data)
			require.Len(t, stream, headerSize()+tt.size+tt.wantChunks*envelope.TagSize)

			got, err := decryptStream(t, stream)
			require.NoError(t, err)
			require.Equal(t, data, got)
		})
	}
}

func TestStream_LargeDefaultChunks(t *testing.T) {
	_, ctx := ktesting.NewTestContext(t)
	key := testutil.TestKey()
	data := testutil.RandomBytes(t, 2<<20)

	enc, err := envelope.NewEncryptor(&key.PublicKey)
	require.NoError(t, err)
	var stream bytes.Buffer
	require.NoError(t, enc.EncryptStream(ctx, &stream, bytes.NewReader(data)))

	chunks := (len(data) + envelope.DefaultChunkSize - 1) / envelope.DefaultChunkSize
	require.Equal(t, headerSize()+len(data)+chunks*envelope.TagSize, stream.Len())

	dec, err := envelope.NewDecryptor(key)
	require.NoError(t, err)
	var out bytes.Buffer
	require.NoError(t, dec.DecryptStream(ctx, &out, &stream))
	require.Equal(t, data, out.Bytes())
}

func TestStream_CipherFromHeader(t *testing.T) {
	data := testutil.RandomBytes(t, 2*testChunkSize+5)
	stream := encryptStream(t, data, envelope.WithCipher(envelope.ChaCha20Poly1305))

	// The decryptor uses the default cipher option but follows the header.
	got, err := decryptStream(t, stream)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestStream_Truncation(t *testing.T) {
	data := testutil.RandomBytes(t, 3*testChunkSize)
	stream := encryptStream(t, data)
	sealedChunk := testChunkSize + envelope.TagSize

	tests := []struct {
		name   string
		length int
		want   error
		// number of plaintext bytes verified before the failure
		wantPrefix int
	}{
		{"last byte removed", len(stream) - 1, envelope.ErrAuthentication, 2 * testChunkSize},
		{"last chunk removed", len(stream) - sealedChunk, envelope.ErrAuthentication, testChunkSize},
		{"all chunks removed", headerSize(), envelope.ErrAuthentication, 0},
		{"tail shorter than a tag", headerSize() + sealedChunk + 5, envelope.ErrMalformedEnvelope, testChunkSize},
		{"header cut", headerSize() - 1, envelope.ErrMalformedEnvelope, 0},
		{"magic only", 6, envelope.ErrMalformedEnvelope, 0},
		{"empty", 0, envelope.ErrMalformedEnvelope, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decryptStream(t, stream[:tt.length])
			require.ErrorIs(t, err, tt.want)
			require.Len(t, got, tt.wantPrefix)
			require.Equal(t, data[:tt.wantPrefix], got)
		})
	}
}

func TestStream_AppendedData(t *testing.T) {
	for _, size := range []int{0, testChunkSize, 2*testChunkSize + 3} {
		stream := encryptStream(t, testutil.RandomBytes(t, size))
		stream = append(stream, 0x00)

		_, err := decryptStream(t, stream)
		require.ErrorIs(t, err, envelope.ErrAuthentication, "size %d", size)
	}
}

func TestStream_ReorderedChunks(t *testing.T) {
	stream := encryptStream(t, testutil.RandomBytes(t, 3*testChunkSize))
	h := headerSize()
	n := testChunkSize + envelope.TagSize

	swapped := bytes.Clone(stream[:h])
	swapped = append(swapped, stream[h+n:h+2*n]...)
	swapped = append(swapped, stream[h:h+n]...)
	swapped = append(swapped, stream[h+2*n:]...)
	require.Len(t, swapped, len(stream))

	got, err := decryptStream(t, swapped)
	require.ErrorIs(t, err, envelope.ErrAuthentication)
	require.Empty(t, got)
}

func TestStream_DroppedChunk(t *testing.T) {
	stream := encryptStream(t, testutil.RandomBytes(t, 3*testChunkSize+1))
	h := headerSize()
	n := testChunkSize + envelope.TagSize

	dropped := bytes.Clone(stream[:h+n])
	dropped = append(dropped, stream[h+2*n:]...)

	_, err := decryptStream(t, dropped)
	require.ErrorIs(t, err, envelope.ErrAuthentication)
}

func TestStream_HeaderTampering(t *testing.T) {
	stream := encryptStream(t, testutil.RandomBytes(t, 100))
	k := testutil.TestKey().Size()

	tests := []struct {
		name   string
		offset int
		value  byte
		want   error
	}{
		{"magic", 0, 'X', envelope.ErrMalformedEnvelope},
		{"version", 6, 2, envelope.ErrMalformedEnvelope},
		{"unknown cipher", 7, 0, envelope.ErrMalformedEnvelope},
		{"other cipher", 7, byte(envelope.ChaCha20Poly1305), envelope.ErrAuthentication},
		{"chunk size out of range", 8, 0xff, envelope.ErrMalformedEnvelope},
		{"chunk size in range", 10, 0x08, envelope.ErrAuthentication},
		{"wrapped key", 12, stream[12] ^ 0x01, envelope.ErrKeyUnwrap},
		{"nonce prefix", 12 + k, stream[12+k] ^ 0x01, envelope.ErrAuthentication},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tampered := bytes.Clone(stream)
			tampered[tt.offset] = tt.value

			got, err := decryptStream(t, tampered)
			require.ErrorIs(t, err, tt.want)
			require.Empty(t, got)
		})
	}
}

func TestStream_WrongKey(t *testing.T) {
	_, ctx := ktesting.NewTestContext(t)
	stream := encryptStream(t, []byte("not for you"))

	dec, err := envelope.NewDecryptor(testutil.OtherTestKey())
	require.NoError(t, err)

	var out bytes.Buffer
	err = dec.DecryptStream(ctx, &out, bytes.NewReader(stream))
	require.ErrorIs(t, err, envelope.ErrKeyUnwrap)
	require.Zero(t, out.Len())
}

func TestStream_Cancelled(t *testing.T) {
	_, ctx := ktesting.NewTestContext(t)
	ctx, cancel := context.WithCancel(ctx)
	cancel()

	key := testutil.TestKey()
	enc, err := envelope.NewEncryptor(&key.PublicKey)
	require.NoError(t, err)
	err = enc.EncryptStream(ctx, &bytes.Buffer{}, bytes.NewReader([]byte("data")))
	require.ErrorIs(t, err, context.Canceled)

	stream := encryptStream(t, []byte("data"))
	dec, err := envelope.NewDecryptor(key)
	require.NoError(t, err)
	var out bytes.Buffer
	err = dec.DecryptStream(ctx, &out, bytes.NewReader(stream))
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, out.Len())
}

func TestStream_ChunkLimit(t *testing.T) {
	restore := envelope.SetMaxChunks(2)
	defer restore()

	_, ctx := ktesting.NewTestContext(t)
	enc, err := envelope.NewEncryptor(&testutil.TestKey().PublicKey, envelope.WithChunkSize(testChunkSize))
	require.NoError(t, err)

	// Two chunks fit.
	require.NoError(t, enc.EncryptStream(ctx, &bytes.Buffer{}, bytes.NewReader(make([]byte, 2*testChunkSize))))

	err = enc.EncryptStream(ctx, &bytes.Buffer{}, bytes.NewReader(make([]byte, 2*testChunkSize+1)))
	require.ErrorIs(t, err, envelope.ErrEncryption)
}

func TestStream_EntropyFailure(t *testing.T) {
	_, ctx := ktesting.NewTestContext(t)
	enc, err := envelope.NewEncryptor(&testutil.TestKey().PublicKey,
		envelope.WithRandom(testutil.FailingReader{Err: errors.New("no entropy")}))
	require.NoError(t, err)

	var out bytes.Buffer
	err = enc.EncryptStream(ctx, &out, bytes.NewReader([]byte("data")))
	require.ErrorIs(t, err, envelope.ErrEncryption)
	require.Zero(t, out.Len())
}

type failingWriter struct{ err error }

func (w failingWriter) Write([]byte) (int, error) { return 0, w.err }

func TestStream_WriteError(t *testing.T) {
	_, ctx := ktesting.NewTestContext(t)
	writeErr := errors.New("disk full")

	enc, err := envelope.NewEncryptor(&testutil.TestKey().PublicKey)
	require.NoError(t, err)
	err = enc.EncryptStream(ctx, failingWriter{writeErr}, bytes.NewReader([]byte("data")))
	require.ErrorIs(t, err, writeErr)

	dec, err := envelope.NewDecryptor(testutil.TestKey())
	require.NoError(t, err)
	err = dec.DecryptStream(ctx, failingWriter{writeErr}, bytes.NewReader(encryptStream(t, []byte("data"))))
	require.ErrorIs(t, err, writeErr)
}

func TestStream_ReadError(t *testing.T) {
	_, ctx := ktesting.NewTestContext(t)
	readErr := errors.New("device gone")

	enc, err := envelope.NewEncryptor(&testutil.TestKey().PublicKey)
	require.NoError(t, err)
	err = enc.EncryptStream(ctx, &bytes.Buffer{}, testutil.FailingReader{Err: readErr})
	require.ErrorIs(t, err, readErr)
}
