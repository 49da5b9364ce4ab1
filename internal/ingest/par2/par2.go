// Package par2 extracts file descriptor packets (true filename + MD5-of-
// first-16KiB identifier) from a PAR2 index file streamed over C5/C6,
// without downloading recovery blocks. Adapted from
// javi11-altmount/internal/importer/parser/par2/{detector,types,reader,descriptor}.go,
// generalized from that package's nntppool-backed sequential reader to
// this module's internal/stream.SegmentStream.
package par2

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
)

// MagicBytes is the PAR2 packet magic signature "PAR2\0PKT".
var MagicBytes = [8]byte{'P', 'A', 'R', '2', 0, 'P', 'K', 'T'}

var fileDescType = [16]byte{'P', 'A', 'R', ' ', '2', '.', '0', 0, 'F', 'i', 'l', 'e', 'D', 'e', 's', 'c'}

const (
	packetHeaderSize    = 64
	minFileDescPacket   = 120
	maxDescriptorPacket = 1000
)

// HasMagicBytes reports whether data opens with the PAR2 packet magic.
func HasMagicBytes(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	for i := range 8 {
		if data[i] != MagicBytes[i] {
			return false
		}
	}
	return true
}

type packetHeader struct {
	Magic      [8]byte
	Length     uint64
	MD5Hash    [16]byte
	RecoveryID [16]byte
	Type       [16]byte
}

// FileDescriptor is one recovered PAR2 FileDesc packet: the true
// filename for a stored file, keyed for matching by Hash16k.
type FileDescriptor struct {
	FileID  [16]byte
	FileMD5 [16]byte
	Hash16k [16]byte
	Length  uint64
	Name    string
}

// ReadDescriptors streams r (positioned at the start of a PAR2 file)
// and returns every FileDesc packet found, early-terminating once
// expectedCount descriptors have been seen (0 means read until EOF or
// the maxDescriptorPacket safety cap). ctx cancellation aborts the scan.
func ReadDescriptors(ctx context.Context, r io.Reader, expectedCount int) ([]FileDescriptor, error) {
	var out []FileDescriptor
	count := 0
	for count < maxDescriptorPacket {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}

		hdr, err := readHeader(r)
		if err != nil {
			if err == io.EOF {
				break
			}
			break
		}
		count++

		if hdr.Type == fileDescType {
			desc, err := readFileDescriptor(r, hdr)
			if err != nil {
				continue
			}
			out = append(out, *desc)
			if expectedCount > 0 && len(out) >= expectedCount {
				break
			}
			continue
		}
		if err := skipBody(r, hdr); err != nil {
			break
		}
	}
	return out, nil
}

func readHeader(r io.Reader) (*packetHeader, error) {
	hdr := &packetHeader{}
	if err := binary.Read(r, binary.LittleEndian, hdr); err != nil {
		return nil, err
	}
	if hdr.Magic != MagicBytes {
		return nil, fmt.Errorf("invalid PAR2 magic signature")
	}
	if hdr.Length < packetHeaderSize || hdr.Length%4 != 0 {
		return nil, fmt.Errorf("invalid PAR2 packet length: %d", hdr.Length)
	}
	return hdr, nil
}

func readFileDescriptor(r io.Reader, hdr *packetHeader) (*FileDescriptor, error) {
	bodyLen := hdr.Length - packetHeaderSize
	if bodyLen < minFileDescPacket-packetHeaderSize {
		return nil, fmt.Errorf("FileDesc packet too small: %d bytes", bodyLen)
	}

	desc := &FileDescriptor{}
	for _, dst := range []any{&desc.FileID, &desc.FileMD5, &desc.Hash16k, &desc.Length} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return nil, err
		}
	}

	nameLen := bodyLen - 56
	if nameLen > 0 {
		raw := make([]byte, nameLen)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, err
		}
		end := len(raw)
		for end > 0 && (raw[end-1] == 0 || raw[end-1] < 32) {
			end--
		}
		desc.Name = string(raw[:end])
	}
	return desc, nil
}

func skipBody(r io.Reader, hdr *packetHeader) error {
	remaining := hdr.Length - packetHeaderSize
	if remaining == 0 {
		return nil
	}
	_, err := io.CopyN(io.Discard, r, int64(remaining))
	return err
}
