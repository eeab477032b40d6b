package transport

import (
	"fmt"
	"io"

	dslz4 "github.com/datastax/go-cassandra-native-protocol/compression/lz4"
	dssnappy "github.com/datastax/go-cassandra-native-protocol/compression/snappy"
	"github.com/datastax/go-cassandra-native-protocol/frame"
	"github.com/klauspost/compress/zstd"
)

// BodyCompressor is an alias of frame.BodyCompressor: the STARTUP handshake
// negotiates one of these by name and the codec uses it for every frame
// body after that, exactly as in datastax/go-cassandra-native-protocol's
// own client helpers.
type BodyCompressor = frame.BodyCompressor

// SnappyCompressor and Lz4Compressor are the two algorithms Cassandra has
// supported since the v2 protocol; both are genuine pack dependencies
// (golang/snappy, pierrec/lz4) already wired into the codec library we
// depend on, so we reuse its BodyCompressor implementations directly rather
// than reimplement the frame-length convention lz4 requires.
var (
	SnappyCompressor BodyCompressor = dssnappy.BodyCompressor{}
	Lz4Compressor     BodyCompressor = dslz4.BodyCompressor{}
)

// ZstdCompressor rounds out compression negotiation with zstd, via
// klauspost/compress. Cassandra has no vendor-blessed ZSTD algorithm name,
// so this is opt-in only (never offered in the default STARTUP options);
// callers that know their cluster supports it can set it explicitly via
// ConnConfig.Compression.
type zstdCompressor struct{}

// ZstdCompressor is the singleton zstd BodyCompressor.
var ZstdCompressor BodyCompressor = zstdCompressor{}

func (zstdCompressor) Algorithm() string { return "ZSTD" }

func (zstdCompressor) Compress(source io.Reader, dest io.Writer) error {
	enc, err := zstd.NewWriter(dest)
	if err != nil {
		return fmt.Errorf("cannot create zstd writer: %w", err)
	}
	if _, err := io.Copy(enc, source); err != nil {
		_ = enc.Close()
		return fmt.Errorf("cannot compress body: %w", err)
	}
	return enc.Close()
}

func (zstdCompressor) Decompress(source io.Reader, dest io.Writer) error {
	dec, err := zstd.NewReader(source)
	if err != nil {
		return fmt.Errorf("cannot create zstd reader: %w", err)
	}
	defer dec.Close()
	if _, err := io.Copy(dest, dec); err != nil {
		return fmt.Errorf("cannot decompress body: %w", err)
	}
	return nil
}

// compressorByName resolves a STARTUP COMPRESSION option value to the
// BodyCompressor that implements it. Conn.startup uses it to check, during
// OPTIONS/SUPPORTED negotiation, that a server-advertised algorithm is one
// we actually have an implementation for before ever offering it.
func compressorByName(name string) (BodyCompressor, bool) {
	switch name {
	case "SNAPPY":
		return SnappyCompressor, true
	case "LZ4":
		return Lz4Compressor, true
	case "ZSTD":
		return ZstdCompressor, true
	default:
		return nil, false
	}
}
