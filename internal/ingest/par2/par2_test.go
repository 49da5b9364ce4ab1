package par2

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildFileDescPacket(t *testing.T, fileID, fileMD5, hash16k [16]byte, length uint64, name string) []byte {
	t.Helper()
	nameBytes := []byte(name)
	for len(nameBytes)%4 != 0 {
		nameBytes = append(nameBytes, 0)
	}
	body := make([]byte, 0, 56+len(nameBytes))
	body = append(body, fileID[:]...)
	body = append(body, fileMD5[:]...)
	body = append(body, hash16k[:]...)
	lenBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(lenBuf, length)
	body = append(body, lenBuf...)
	body = append(body, nameBytes...)

	var buf bytes.Buffer
	buf.Write(MagicBytes[:])
	totalLen := uint64(packetHeaderSize + len(body))
	binary.Write(&buf, binary.LittleEndian, totalLen)
	buf.Write(make([]byte, 16)) // MD5Hash (unchecked by the reader)
	buf.Write(make([]byte, 16)) // RecoveryID
	buf.Write(fileDescType[:])
	buf.Write(body)
	return buf.Bytes()
}

func TestHasMagicBytes(t *testing.T) {
	assert.True(t, HasMagicBytes(MagicBytes[:]))
	assert.False(t, HasMagicBytes([]byte("not a par2 file")))
	assert.False(t, HasMagicBytes([]byte("short")))
}

func TestReadDescriptorsFindsFileDescPackets(t *testing.T) {
	var fileID, fileMD5, hash16k [16]byte
	fileID[0] = 0x01
	hash16k[0] = 0xAB

	packet := buildFileDescPacket(t, fileID, fileMD5, hash16k, 12345, "movie.mkv")

	descs, err := ReadDescriptors(context.Background(), bytes.NewReader(packet), 0)
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, "movie.mkv", descs[0].Name)
	assert.Equal(t, uint64(12345), descs[0].Length)
	assert.Equal(t, hash16k, descs[0].Hash16k)
}

func TestReadDescriptorsSkipsNonFileDescPackets(t *testing.T) {
	var otherType [16]byte
	copy(otherType[:], "PAR 2.0\x00Main\x00\x00\x00\x00")

	var buf bytes.Buffer
	buf.Write(MagicBytes[:])
	body := make([]byte, 8) // must be multiple of 4
	totalLen := uint64(packetHeaderSize + len(body))
	binary.Write(&buf, binary.LittleEndian, totalLen)
	buf.Write(make([]byte, 16))
	buf.Write(make([]byte, 16))
	buf.Write(otherType[:])
	buf.Write(body)

	var fileID, fileMD5, hash16k [16]byte
	buf.Write(buildFileDescPacket(t, fileID, fileMD5, hash16k, 99, "second.mkv"))

	descs, err := ReadDescriptors(context.Background(), bytes.NewReader(buf.Bytes()), 0)
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, "second.mkv", descs[0].Name)
}

func TestReadDescriptorsEarlyTerminatesAtExpectedCount(t *testing.T) {
	var fileID, fileMD5, hash16k [16]byte
	var buf bytes.Buffer
	buf.Write(buildFileDescPacket(t, fileID, fileMD5, hash16k, 1, "a.bin"))
	buf.Write(buildFileDescPacket(t, fileID, fileMD5, hash16k, 2, "b.bin"))

	descs, err := ReadDescriptors(context.Background(), bytes.NewReader(buf.Bytes()), 1)
	require.NoError(t, err)
	assert.Len(t, descs, 1)
}
