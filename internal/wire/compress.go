package wire

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// compressionThreshold is the smallest serialized frame worth compressing.
// Below this the gzip header overhead dominates.
const compressionThreshold = 4096

// MaybeCompress serializes a frame and, when the client supports it and the
// gzipped form is actually smaller, wraps it in a COMPRESSED_MESSAGE.
// Otherwise the uncompressed frame bytes are returned.
func MaybeCompress(message ServerMessage, clientSupported bool) ([]byte, error) {
	raw, err := EncodeServerMessage(message)
	if err != nil {
		return nil, err
	}
	if !clientSupported || len(raw) < compressionThreshold {
		return raw, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compress frame: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress frame: %w", err)
	}

	wrapped, err := EncodeServerMessage(CompressedMessage{
		Type: ServerMessageCompressed,
		Payload: CompressedPayload{
			Algo: "gzip",
			Data: base64.StdEncoding.EncodeToString(buf.Bytes()),
		},
	})
	if err != nil {
		return nil, err
	}
	// Fall back when the wrapper plus base64 expansion erased the benefit.
	if len(wrapped) >= len(raw) {
		return raw, nil
	}
	return wrapped, nil
}

// Decompress unwraps a COMPRESSED_MESSAGE payload back to frame bytes.
func Decompress(payload CompressedPayload) ([]byte, error) {
	if payload.Algo != "gzip" {
		return nil, fmt.Errorf("unsupported compression algo %q", payload.Algo)
	}
	compressed, err := base64.StdEncoding.DecodeString(payload.Data)
	if err != nil {
		return nil, fmt.Errorf("decode compressed frame: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("decompress frame: %w", err)
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
