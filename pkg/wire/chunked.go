package wire

import (
	"net/textproto"
	"strconv"
	"strings"

	"github.com/wireclient/excon/pkg/datum"
	"github.com/wireclient/excon/pkg/errors"
	"github.com/wireclient/excon/pkg/socket"
)

// readChunkedBody decodes a chunked-transfer-encoded body (RFC 7230 §4.1),
// invoking sink once per chunk, and returns any trailer headers. Chunk data
// is read in readSize slices (§6 chunk_size). The CRLF after each non-empty
// chunk's data is validated strictly: a malformed or missing CRLF is a
// protocol error rather than silently tolerated, since (unlike
// Content-Length) there is no safe recovery once chunk framing desyncs.
// After the zero-length chunk, trailer lines are read up to the blank line;
// a trailer line without a colon is skipped, not rejected.
func readChunkedBody(sock socket.Socket, readSize int64, sink func([]byte) error) (*datum.Headers, error) {
	for {
		sizeLine, err := sock.ReadLine()
		if err != nil {
			return nil, errors.NewProtocolError("reading chunk size", err)
		}
		sizeLine = strings.TrimRight(sizeLine, "\r\n")

		sizeField := sizeLine
		if idx := strings.IndexByte(sizeLine, ';'); idx >= 0 {
			sizeField = sizeLine[:idx] // discard chunk extensions
		}
		size, err := strconv.ParseInt(strings.TrimSpace(sizeField), 16, 64)
		if err != nil {
			return nil, errors.NewProtocolError("invalid chunk size: "+sizeLine, err)
		}
		if size < 0 {
			return nil, errors.NewProtocolError("negative chunk size", nil)
		}

		if size == 0 {
			return readTrailers(sock)
		}

		if err := readChunkData(sock, size, readSize, sink); err != nil {
			return nil, err
		}

		if err := consumeChunkCRLF(sock); err != nil {
			return nil, err
		}
	}
}

func readChunkData(sock socket.Socket, size, readSize int64, sink func([]byte) error) error {
	var remaining = size
	for remaining > 0 {
		want := remaining
		if want > readSize {
			want = readSize
		}
		data, err := sock.Read(int(want))
		if err != nil {
			return errors.NewIOError("reading chunk data", err)
		}
		if len(data) == 0 {
			return errors.NewProtocolError("connection closed mid-chunk", nil)
		}
		remaining -= int64(len(data))
		if err := sink(data); err != nil {
			return err
		}
	}
	return nil
}

// consumeChunkCRLF reads and validates the CRLF that terminates every
// chunk's data. A line that isn't exactly "\r\n" means the chunk size was
// wrong or the stream is corrupt; both are protocol errors, not warnings.
func consumeChunkCRLF(sock socket.Socket) error {
	line, err := sock.ReadLine()
	if err != nil {
		return errors.NewProtocolError("reading chunk terminator", err)
	}
	if line != "\r\n" && line != "\n" {
		return errors.NewProtocolError("malformed chunk terminator: "+strings.TrimRight(line, "\r\n"), nil)
	}
	return nil
}

// readTrailers reads trailer header lines following the zero-length chunk,
// up to and including the final blank line, folding duplicates in insertion
// order (§4.4, §8) the same way readHeaders does.
func readTrailers(sock socket.Socket) (*datum.Headers, error) {
	trailers := datum.NewHeaders()
	for {
		line, err := sock.ReadLine()
		if err != nil {
			return nil, errors.NewProtocolError("reading chunk trailer", err)
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			return trailers, nil
		}
		parts := strings.SplitN(trimmed, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(parts[0]))
		value := strings.TrimSpace(parts[1])
		trailers.Merge(key, value)
	}
}
