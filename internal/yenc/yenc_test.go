package yenc

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nzberrors "github.com/nzbvault/nzbvault/internal/errors"
)

// encode builds a minimal single-part yEnc article body for plain (payload []byte).
func encode(t *testing.T, payload []byte, name string) []byte {
	t.Helper()
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "=ybegin line=128 size=%d name=%s\r\n", len(payload), name)
	for _, b := range payload {
		v := b + 42
		if v == '=' || v == '\r' || v == '\n' || v == 0 {
			buf.WriteByte('=')
			buf.WriteByte(v + 64)
		} else {
			buf.WriteByte(v)
		}
	}
	buf.WriteString("\r\n")
	crc := crc32.ChecksumIEEE(payload)
	fmt.Fprintf(&buf, "=yend size=%d crc32=%08x\r\n", len(payload), crc)
	return buf.Bytes()
}

func TestDecodeRoundTrip(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog 0123456789")
	body := encode(t, payload, "test.bin")

	hdr, decoded, err := Decode("msg1", body)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
	assert.Equal(t, "test.bin", hdr.Filename)
	assert.Equal(t, int64(len(payload)), hdr.FileSize)
	assert.True(t, hdr.HasCRC)
}

func TestDecodeCrcMismatch(t *testing.T) {
	payload := []byte("abcdefg")
	body := encode(t, payload, "test.bin")
	// Corrupt the crc footer.
	body = bytes.Replace(body, []byte(fmt.Sprintf("%08x", crc32.ChecksumIEEE(payload))), []byte("deadbeef"), 1)

	_, _, err := Decode("msg2", body)
	require.Error(t, err)
	var crcErr *nzberrors.CrcMismatchError
	assert.ErrorAs(t, err, &crcErr)
}

func TestDecodeMissingMarkers(t *testing.T) {
	_, _, err := Decode("msg3", []byte("not a yenc article at all\r\n"))
	require.Error(t, err)
	var malformed *nzberrors.ArticleMalformedError
	assert.ErrorAs(t, err, &malformed)
}
