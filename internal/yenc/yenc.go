// Package yenc decodes a single NNTP article body (C2): recognises the
// =ybegin/=ypart/=yend header lines, decodes the binary payload, and
// verifies the declared CRC-32 where present. Hand-rolled — no example
// repo in the retrieval pack imports an external yEnc codec with a
// visible call site (see DESIGN.md) — grounded on the streaming
// bufio-based decoder in datallboy-GoNZB/internal/decoding/yenc.go and
// the simpler line-oriented decoder in
// avogabo-EDRmount/internal/yenc/yenc.go.
package yenc

import (
	"bufio"
	"bytes"
	"hash/crc32"
	"strconv"
	"strings"

	nzberrors "github.com/nzbvault/nzbvault/internal/errors"
)

// Header carries the parsed yEnc header/footer fields for one article.
type Header struct {
	Filename    string
	FileSize    int64
	PartNumber  int
	TotalParts  int
	PartSize    int64
	PartOffset  int64 // 0-based, converted from yEnc's 1-based begin=
	CRC32       uint32
	HasCRC      bool
}

// Decode parses one article body (dot-stuffing already undone by the
// nntp package) and returns its header fields and decoded bytes.
func Decode(messageID string, body []byte) (Header, []byte, error) {
	r := bufio.NewReaderSize(bytes.NewReader(body), 64*1024)

	var hdr Header
	foundBegin := false

	for {
		line, err := r.ReadString('\n')
		if line != "" {
			trimmed := strings.TrimRight(line, "\r\n")
			if strings.HasPrefix(trimmed, "=ybegin") {
				parseYbegin(trimmed, &hdr)
				foundBegin = true
				if peeked, perr := r.Peek(6); perr == nil && strings.HasPrefix(string(peeked), "=ypart") {
					partLine, _ := r.ReadString('\n')
					parseYpart(strings.TrimRight(partLine, "\r\n"), &hdr)
				}
				break
			}
		}
		if err != nil {
			return Header{}, nil, &nzberrors.ArticleMalformedError{MessageID: messageID, Reason: "missing =ybegin marker"}
		}
	}
	if !foundBegin {
		return Header{}, nil, &nzberrors.ArticleMalformedError{MessageID: messageID, Reason: "missing =ybegin marker"}
	}

	hash := crc32.NewIEEE()
	var out bytes.Buffer
	escaped := false
	reachedEnd := false

	for !reachedEnd {
		b, err := r.ReadByte()
		if err != nil {
			return Header{}, nil, &nzberrors.ArticleMalformedError{MessageID: messageID, Reason: "missing =yend marker"}
		}

		if b == '=' && !escaped {
			peek, perr := r.Peek(4)
			if perr == nil && string(peek) == "yend" {
				reachedEnd = true
				footer, _ := r.ReadString('\n')
				parseYend(strings.TrimRight(footer, "\r\n"), &hdr)
				break
			}
			escaped = true
			continue
		}

		if (b == '\r' || b == '\n') && !escaped {
			continue
		}

		var decoded byte
		if escaped {
			decoded = b - 64 - 42
			escaped = false
		} else {
			decoded = b - 42
		}
		out.WriteByte(decoded)
		_, _ = hash.Write([]byte{decoded})
	}

	decoded := out.Bytes()

	if hdr.HasCRC {
		if actual := hash.Sum32(); actual != hdr.CRC32 {
			return hdr, decoded, &nzberrors.CrcMismatchError{MessageID: messageID, Want: hdr.CRC32, Got: actual}
		}
	}

	return hdr, decoded, nil
}

// ParseHeaderLines parses the raw =ybegin (and optional =ypart) lines
// from the start of a body, without decoding or CRC-checking the
// payload. Used by the segment-size oracle (C4), which reads only these
// leading lines off the wire via nntp.Client.BodyLines.
func ParseHeaderLines(messageID string, lines []string) (Header, error) {
	var hdr Header
	found := false
	for _, line := range lines {
		if strings.HasPrefix(line, "=ybegin") {
			parseYbegin(line, &hdr)
			found = true
			continue
		}
		if found && strings.HasPrefix(line, "=ypart") {
			parseYpart(line, &hdr)
			break
		}
	}
	if !found {
		return Header{}, &nzberrors.ArticleMalformedError{MessageID: messageID, Reason: "missing =ybegin marker"}
	}
	return hdr, nil
}

func parseYbegin(line string, hdr *Header) {
	// name= is free-form and may contain spaces, so it must be the last
	// field extracted by substring search rather than strings.Fields.
	if i := strings.Index(line, " name="); i >= 0 {
		hdr.Filename = strings.TrimSpace(line[i+len(" name="):])
	}
	for _, f := range strings.Fields(line) {
		switch {
		case strings.HasPrefix(f, "size="):
			hdr.FileSize, _ = strconv.ParseInt(strings.TrimPrefix(f, "size="), 10, 64)
		case strings.HasPrefix(f, "part="):
			hdr.PartNumber, _ = strconv.Atoi(strings.TrimPrefix(f, "part="))
		case strings.HasPrefix(f, "total="):
			hdr.TotalParts, _ = strconv.Atoi(strings.TrimPrefix(f, "total="))
		}
	}
}

func parseYpart(line string, hdr *Header) {
	var begin, end int64
	for _, f := range strings.Fields(line) {
		switch {
		case strings.HasPrefix(f, "begin="):
			begin, _ = strconv.ParseInt(strings.TrimPrefix(f, "begin="), 10, 64)
		case strings.HasPrefix(f, "end="):
			end, _ = strconv.ParseInt(strings.TrimPrefix(f, "end="), 10, 64)
		}
	}
	if begin > 0 {
		hdr.PartOffset = begin - 1
	}
	if end >= begin && begin > 0 {
		hdr.PartSize = end - begin + 1
	}
}

func parseYend(line string, hdr *Header) {
	for _, f := range strings.Fields(line) {
		switch {
		case strings.HasPrefix(f, "size="):
			if hdr.PartSize == 0 {
				hdr.PartSize, _ = strconv.ParseInt(strings.TrimPrefix(f, "size="), 10, 64)
			}
		case strings.HasPrefix(f, "pcrc32="):
			if v, err := strconv.ParseUint(strings.TrimPrefix(f, "pcrc32="), 16, 32); err == nil {
				hdr.CRC32 = uint32(v)
				hdr.HasCRC = true
			}
		case strings.HasPrefix(f, "crc32="):
			if !hdr.HasCRC {
				if v, err := strconv.ParseUint(strings.TrimPrefix(f, "crc32="), 16, 32); err == nil {
					hdr.CRC32 = uint32(v)
					hdr.HasCRC = true
				}
			}
		}
	}
}
