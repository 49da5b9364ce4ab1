// Package decodewrap implements the decoding wrappers (C7): three
// compositional io.ReadSeekCloser transforms layered over a seekable
// stream, each preserving seekability by transforming offsets rather
// than buffering the whole body.
//
// Wrappers compose in the fixed order Stream -> Limit -> Aes -> RarXor,
// mirroring how a MultipartFile's metadata (declared length, AES
// params, obfuscation magic offset) is discovered during ingestion
// (C8) and replayed at open time (C9).
package decodewrap

import (
	"crypto/aes"
	"crypto/cipher"
	"io"

	nzberrors "github.com/nzbvault/nzbvault/internal/errors"
)

// Stream is the minimal capability every wrapper builds on.
type Stream interface {
	io.Reader
	io.Seeker
	io.Closer
}

// Limit clamps an underlying stream to a declared total length,
// returning io.EOF once that many bytes have been produced even if the
// backing stream has more (trailing volume padding, next stored file,
// etc).
type Limit struct {
	Stream
	length int64
	pos    int64
}

// NewLimit wraps s so reads and seeks never see past the first length
// bytes of the underlying stream.
func NewLimit(s Stream, length int64) *Limit {
	return &Limit{Stream: s, length: length}
}

func (l *Limit) Read(p []byte) (int, error) {
	if l.pos >= l.length {
		return 0, io.EOF
	}
	if remaining := l.length - l.pos; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := l.Stream.Read(p)
	l.pos += int64(n)
	return n, err
}

func (l *Limit) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = l.pos + offset
	case io.SeekEnd:
		target = l.length + offset
	default:
		return 0, &nzberrors.SeekPositionNotFoundError{Offset: offset, Length: l.length}
	}
	if target < 0 || target > l.length {
		return 0, &nzberrors.SeekPositionNotFoundError{Offset: target, Length: l.length}
	}
	if _, err := l.Stream.Seek(target, io.SeekStart); err != nil {
		return 0, err
	}
	l.pos = target
	return target, nil
}

func (l *Limit) Len() int64 { return l.length }

// Aes decrypts an AES-CTR encrypted stream. Decryption is a pure
// keystream XOR, so a seek is just recomputing the counter for the new
// byte offset and discarding the sub-block prefix up to it — no
// decrypt-and-discard of intervening ciphertext is needed.
type Aes struct {
	Stream
	block cipher.Block
	iv    []byte
	pos   int64
}

// NewAes wraps s, decrypting with the given key/iv under AES-CTR. key
// must be 16, 24, or 32 bytes (AES-128/192/256); iv must be the cipher
// block size (16 bytes).
func NewAes(s Stream, key, iv []byte) (*Aes, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != block.BlockSize() {
		return nil, &nzberrors.ArticleMalformedError{Reason: "AES-CTR iv length mismatch"}
	}
	return &Aes{Stream: s, block: block, iv: iv}, nil
}

func (a *Aes) Read(p []byte) (int, error) {
	n, err := a.Stream.Read(p)
	if n > 0 {
		a.streamAt(a.pos).XORKeyStream(p[:n], p[:n])
		a.pos += int64(n)
	}
	return n, err
}

func (a *Aes) Seek(offset int64, whence int) (int64, error) {
	pos, err := a.Stream.Seek(offset, whence)
	if err != nil {
		return 0, err
	}
	a.pos = pos
	return pos, nil
}

// streamAt returns a CTR keystream positioned at byte offset pos,
// derived by advancing the base iv's counter by pos/blockSize whole
// blocks and then discarding pos%blockSize keystream bytes so XOR
// alignment inside the block is exact.
func (a *Aes) streamAt(pos int64) cipher.Stream {
	blockSize := int64(a.block.BlockSize())
	blockOffset := pos / blockSize
	within := int(pos % blockSize)

	ctrIV := make([]byte, len(a.iv))
	copy(ctrIV, a.iv)
	addCounter(ctrIV, blockOffset)

	stream := cipher.NewCTR(a.block, ctrIV)
	if within > 0 {
		discard := make([]byte, within)
		stream.XORKeyStream(discard, discard)
	}
	return stream
}

// addCounter adds n to the big-endian integer held in iv, matching the
// counter layout cipher.NewCTR assumes.
func addCounter(iv []byte, n int64) {
	for i := len(iv) - 1; i >= 0 && n != 0; i-- {
		sum := int64(iv[i]) + (n & 0xff)
		iv[i] = byte(sum)
		n = n>>8 + sum>>8
	}
}

// rarObfuscationMagic marks the start of an XOR-obfuscated stored-file
// payload; rarObfuscationKey is XORed repeating across the body from
// that offset on.
var (
	rarObfuscationMagic = [4]byte{0xAA, 0x04, 0x1D, 0x6D}
	rarObfuscationKey   = [4]byte{0xB0, 0x41, 0xC2, 0xCE}
)

// DetectRarObfuscation reports whether the payload at the start of a
// stored file carries the standard RAR obfuscation signature.
func DetectRarObfuscation(firstBytes []byte) bool {
	if len(firstBytes) < 4 {
		return false
	}
	return firstBytes[0] == rarObfuscationMagic[0] &&
		firstBytes[1] == rarObfuscationMagic[1] &&
		firstBytes[2] == rarObfuscationMagic[2] &&
		firstBytes[3] == rarObfuscationMagic[3]
}

// RarXor deobfuscates a stored RAR file's payload by XORing a short
// repeating 4-byte key across the body, starting at magicOffset.
type RarXor struct {
	Stream
	magicOffset int64
	pos         int64
}

// NewRarXor wraps s, applying the standard XOR key from magicOffset
// onward. Bytes before magicOffset (if any) pass through unmodified.
func NewRarXor(s Stream, magicOffset int64) *RarXor {
	return &RarXor{Stream: s, magicOffset: magicOffset}
}

func (r *RarXor) Read(p []byte) (int, error) {
	n, err := r.Stream.Read(p)
	if n > 0 {
		for i := 0; i < n; i++ {
			off := r.pos + int64(i)
			if off < r.magicOffset {
				continue
			}
			keyIdx := (off - r.magicOffset) % int64(len(rarObfuscationKey))
			p[i] ^= rarObfuscationKey[keyIdx]
		}
		r.pos += int64(n)
	}
	return n, err
}

func (r *RarXor) Seek(offset int64, whence int) (int64, error) {
	pos, err := r.Stream.Seek(offset, whence)
	if err != nil {
		return 0, err
	}
	r.pos = pos
	return pos, nil
}
