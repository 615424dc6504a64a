// Package compression handles payload compression for event delivery
// and ingest. Outbound request bodies are compressed with the
// configured algorithm before they leave the process; inbound
// submissions are decompressed according to their Content-Encoding
// header. All helpers operate on whole payloads, which stay small
// enough that streaming is not worth the complexity.
package compression

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type identifies a compression algorithm.
type Type string

const (
	// TypeNone disables compression.
	TypeNone Type = "none"
	// TypeGzip uses gzip compression.
	TypeGzip Type = "gzip"
	// TypeZstd uses zstd compression.
	TypeZstd Type = "zstd"
	// TypeSnappy uses snappy compression.
	TypeSnappy Type = "snappy"
	// TypeZlib uses zlib compression.
	TypeZlib Type = "zlib"
	// TypeDeflate uses raw deflate compression.
	TypeDeflate Type = "deflate"
	// TypeLZ4 uses lz4 compression.
	TypeLZ4 Type = "lz4"
)

// Level selects a compression level. The zero value picks each
// algorithm's default. For gzip, zlib and deflate any other value is
// passed through as the numeric level; zstd recognizes the ZstdSpeed*
// constants; snappy and lz4 ignore levels they do not support.
type Level int

const (
	// LevelDefault uses the algorithm's default level.
	LevelDefault Level = 0
	// LevelFastest trades ratio for speed.
	LevelFastest Level = 1
	// LevelBest trades speed for ratio.
	LevelBest Level = 9
)

// zstd speed tiers
const (
	ZstdSpeedFastest           Level = 1
	ZstdSpeedDefault           Level = 3
	ZstdSpeedBetterCompression Level = 6
	ZstdSpeedBestCompression   Level = 11
)

// Config holds compression settings.
type Config struct {
	// Type is the compression algorithm to use.
	Type Type
	// Level is the compression level (algorithm-specific).
	Level Level
}

// ParseType parses a compression type string. The empty string maps to
// TypeNone so an unset config key disables compression.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return TypeNone, nil
	case "gzip":
		return TypeGzip, nil
	case "zstd":
		return TypeZstd, nil
	case "snappy":
		return TypeSnappy, nil
	case "zlib":
		return TypeZlib, nil
	case "deflate":
		return TypeDeflate, nil
	case "lz4":
		return TypeLZ4, nil
	default:
		return TypeNone, fmt.Errorf("unsupported compression type: %s", s)
	}
}

// ContentEncoding returns the Content-Encoding header value for the
// type, or "" for TypeNone.
func (t Type) ContentEncoding() string {
	switch t {
	case TypeGzip:
		return "gzip"
	case TypeZstd:
		return "zstd"
	case TypeSnappy:
		return "snappy"
	case TypeZlib:
		return "zlib"
	case TypeDeflate:
		return "deflate"
	case TypeLZ4:
		return "lz4"
	default:
		return ""
	}
}

// ParseContentEncoding maps a Content-Encoding header value to a
// compression type. Unknown encodings map to TypeNone; callers that
// need to reject them should compare the header against
// ContentEncoding() first.
func ParseContentEncoding(encoding string) Type {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip", "x-gzip":
		return TypeGzip
	case "zstd":
		return TypeZstd
	case "snappy", "x-snappy-framed":
		return TypeSnappy
	case "zlib":
		return TypeZlib
	case "deflate":
		return TypeDeflate
	case "lz4":
		return TypeLZ4
	default:
		return TypeNone
	}
}

// Compress compresses a payload with the configured algorithm and
// level. TypeNone returns the input unchanged.
func Compress(data []byte, cfg Config) ([]byte, error) {
	if cfg.Type == TypeNone || cfg.Type == "" {
		return data, nil
	}

	var out []byte
	var err error

	switch cfg.Type {
	case TypeGzip:
		out, err = gzipCompress(data, cfg.Level)
	case TypeZstd:
		out, err = zstdCompress(data, cfg.Level)
	case TypeSnappy:
		out = snappy.Encode(nil, data)
	case TypeZlib:
		out, err = zlibCompress(data, cfg.Level)
	case TypeDeflate:
		out, err = deflateCompress(data, cfg.Level)
	case TypeLZ4:
		out, err = lz4Compress(data, cfg.Level)
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", cfg.Type)
	}

	if err != nil {
		compressionErrors.WithLabelValues("compress").Inc()
		return nil, err
	}
	compressBytesIn.WithLabelValues(string(cfg.Type)).Add(float64(len(data)))
	compressBytesOut.WithLabelValues(string(cfg.Type)).Add(float64(len(out)))
	return out, nil
}

// Decompress reverses Compress for the given type. TypeNone returns
// the input unchanged.
func Decompress(data []byte, compressionType Type) ([]byte, error) {
	if compressionType == TypeNone || compressionType == "" {
		return data, nil
	}

	var out []byte
	var err error

	switch compressionType {
	case TypeGzip:
		out, err = gzipDecompress(data)
	case TypeZstd:
		out, err = zstdDecompress(data)
	case TypeSnappy:
		out, err = snappy.Decode(nil, data)
	case TypeZlib:
		out, err = zlibDecompress(data)
	case TypeDeflate:
		out, err = deflateDecompress(data)
	case TypeLZ4:
		out, err = lz4Decompress(data)
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", compressionType)
	}

	if err != nil {
		compressionErrors.WithLabelValues("decompress").Inc()
		return nil, err
	}
	decompressBytesIn.WithLabelValues(string(compressionType)).Add(float64(len(data)))
	decompressBytesOut.WithLabelValues(string(compressionType)).Add(float64(len(out)))
	return out, nil
}

func gzipCompress(data []byte, level Level) ([]byte, error) {
	gzLevel := gzip.DefaultCompression
	if level != LevelDefault {
		gzLevel = int(level)
	}
	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, gzLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	if _, err := gw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write gzip data: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gr.Close()
	return io.ReadAll(gr)
}

func zstdCompress(data []byte, level Level) ([]byte, error) {
	zstdLevel := zstd.SpeedDefault
	switch level {
	case ZstdSpeedFastest:
		zstdLevel = zstd.SpeedFastest
	case ZstdSpeedBetterCompression:
		zstdLevel = zstd.SpeedBetterCompression
	case ZstdSpeedBestCompression:
		zstdLevel = zstd.SpeedBestCompression
	}
	var buf bytes.Buffer
	encoder, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstdLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	if _, err := encoder.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write zstd data: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zstd encoder: %w", err)
	}
	return buf.Bytes(), nil
}

func zstdDecompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer decoder.Close()
	return io.ReadAll(decoder)
}

func zlibCompress(data []byte, level Level) ([]byte, error) {
	zlibLevel := zlib.DefaultCompression
	if level != LevelDefault {
		zlibLevel = int(level)
	}
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlibLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create zlib writer: %w", err)
	}
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write zlib data: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zlib writer: %w", err)
	}
	return buf.Bytes(), nil
}

func zlibDecompress(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create zlib reader: %w", err)
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func deflateCompress(data []byte, level Level) ([]byte, error) {
	deflateLevel := flate.DefaultCompression
	if level != LevelDefault {
		deflateLevel = int(level)
	}
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, deflateLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create deflate writer: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write deflate data: %w", err)
	}
	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close deflate writer: %w", err)
	}
	return buf.Bytes(), nil
}

func deflateDecompress(data []byte) ([]byte, error) {
	fr := flate.NewReader(bytes.NewReader(data))
	defer fr.Close()
	return io.ReadAll(fr)
}

func lz4Compress(data []byte, level Level) ([]byte, error) {
	var buf bytes.Buffer
	lw := lz4.NewWriter(&buf)
	if level != LevelDefault {
		lw.Apply(lz4.CompressionLevelOption(lz4.CompressionLevel(level)))
	}
	if _, err := lw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write lz4 data: %w", err)
	}
	if err := lw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close lz4 writer: %w", err)
	}
	return buf.Bytes(), nil
}

func lz4Decompress(data []byte) ([]byte, error) {
	lr := lz4.NewReader(bytes.NewReader(data))
	return io.ReadAll(lr)
}
