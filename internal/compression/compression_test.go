package compression

import (
	"bytes"
	"strings"
	"testing"
)

// samplePayload is shaped like a batch of serialized events: highly
// repetitive JSON that every algorithm should shrink.
func samplePayload() []byte {
	entry := `{"id":"3f2c","name":"app.error","timestamp":"2026-02-11T10:00:00Z","properties":{"code":500,"source":"uploader"}},`
	return []byte("[" + strings.Repeat(entry, 200) + "]")
}

func allTypes() []Type {
	return []Type{TypeNone, TypeGzip, TypeZstd, TypeSnappy, TypeZlib, TypeDeflate, TypeLZ4}
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	payload := samplePayload()

	for _, typ := range allTypes() {
		t.Run(string(typ), func(t *testing.T) {
			compressed, err := Compress(payload, Config{Type: typ})
			if err != nil {
				t.Fatalf("Compress(%s): %v", typ, err)
			}

			decompressed, err := Decompress(compressed, typ)
			if err != nil {
				t.Fatalf("Decompress(%s): %v", typ, err)
			}

			if !bytes.Equal(decompressed, payload) {
				t.Errorf("round trip through %s mangled payload: got %d bytes, want %d", typ, len(decompressed), len(payload))
			}
		})
	}
}

func TestCompressShrinksRepetitivePayload(t *testing.T) {
	payload := samplePayload()

	for _, typ := range []Type{TypeGzip, TypeZstd, TypeSnappy, TypeZlib, TypeDeflate, TypeLZ4} {
		t.Run(string(typ), func(t *testing.T) {
			compressed, err := Compress(payload, Config{Type: typ})
			if err != nil {
				t.Fatalf("Compress(%s): %v", typ, err)
			}
			if len(compressed) >= len(payload) {
				t.Errorf("%s did not shrink payload: %d -> %d bytes", typ, len(payload), len(compressed))
			}
		})
	}
}

func TestCompressNonePassesThrough(t *testing.T) {
	payload := []byte(`{"name":"app.start"}`)

	for _, typ := range []Type{TypeNone, Type("")} {
		out, err := Compress(payload, Config{Type: typ})
		if err != nil {
			t.Fatalf("Compress(%q): %v", typ, err)
		}
		if !bytes.Equal(out, payload) {
			t.Errorf("Compress(%q) altered payload", typ)
		}

		out, err = Decompress(payload, typ)
		if err != nil {
			t.Fatalf("Decompress(%q): %v", typ, err)
		}
		if !bytes.Equal(out, payload) {
			t.Errorf("Decompress(%q) altered payload", typ)
		}
	}
}

func TestCompressEmptyPayload(t *testing.T) {
	for _, typ := range allTypes() {
		t.Run(string(typ), func(t *testing.T) {
			compressed, err := Compress([]byte{}, Config{Type: typ})
			if err != nil {
				t.Fatalf("Compress(%s, empty): %v", typ, err)
			}
			decompressed, err := Decompress(compressed, typ)
			if err != nil {
				t.Fatalf("Decompress(%s, empty): %v", typ, err)
			}
			if len(decompressed) != 0 {
				t.Errorf("empty payload round trip through %s produced %d bytes", typ, len(decompressed))
			}
		})
	}
}

func TestCompressUnsupportedType(t *testing.T) {
	if _, err := Compress([]byte("data"), Config{Type: Type("brotli")}); err == nil {
		t.Error("expected error for unsupported compression type")
	}
}

func TestDecompressUnsupportedType(t *testing.T) {
	if _, err := Decompress([]byte("data"), Type("brotli")); err == nil {
		t.Error("expected error for unsupported compression type")
	}
}

func TestDecompressCorruptData(t *testing.T) {
	garbage := []byte("this is definitely not a compressed payload")

	for _, typ := range []Type{TypeGzip, TypeZstd, TypeSnappy, TypeZlib} {
		t.Run(string(typ), func(t *testing.T) {
			if _, err := Decompress(garbage, typ); err == nil {
				t.Errorf("Decompress(%s) accepted garbage input", typ)
			}
		})
	}
}

func TestCompressionLevels(t *testing.T) {
	payload := samplePayload()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"gzip fastest", Config{Type: TypeGzip, Level: LevelFastest}},
		{"gzip best", Config{Type: TypeGzip, Level: LevelBest}},
		{"zlib best", Config{Type: TypeZlib, Level: LevelBest}},
		{"deflate fastest", Config{Type: TypeDeflate, Level: LevelFastest}},
		{"zstd fastest", Config{Type: TypeZstd, Level: ZstdSpeedFastest}},
		{"zstd default", Config{Type: TypeZstd, Level: ZstdSpeedDefault}},
		{"zstd better", Config{Type: TypeZstd, Level: ZstdSpeedBetterCompression}},
		{"zstd best", Config{Type: TypeZstd, Level: ZstdSpeedBestCompression}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compressed, err := Compress(payload, tt.cfg)
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}
			decompressed, err := Decompress(compressed, tt.cfg.Type)
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if !bytes.Equal(decompressed, payload) {
				t.Error("round trip mangled payload")
			}
		})
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		input   string
		want    Type
		wantErr bool
	}{
		{"", TypeNone, false},
		{"none", TypeNone, false},
		{"gzip", TypeGzip, false},
		{"GZIP", TypeGzip, false},
		{"  zstd  ", TypeZstd, false},
		{"snappy", TypeSnappy, false},
		{"zlib", TypeZlib, false},
		{"deflate", TypeDeflate, false},
		{"lz4", TypeLZ4, false},
		{"brotli", TypeNone, true},
		{"gz", TypeNone, true},
	}

	for _, tt := range tests {
		got, err := ParseType(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseType(%q): expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseType(%q): %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseType(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestContentEncoding(t *testing.T) {
	tests := []struct {
		typ  Type
		want string
	}{
		{TypeNone, ""},
		{TypeGzip, "gzip"},
		{TypeZstd, "zstd"},
		{TypeSnappy, "snappy"},
		{TypeZlib, "zlib"},
		{TypeDeflate, "deflate"},
		{TypeLZ4, "lz4"},
	}

	for _, tt := range tests {
		if got := tt.typ.ContentEncoding(); got != tt.want {
			t.Errorf("ContentEncoding(%s) = %q, want %q", tt.typ, got, tt.want)
		}
	}
}

func TestParseContentEncoding(t *testing.T) {
	tests := []struct {
		encoding string
		want     Type
	}{
		{"", TypeNone},
		{"gzip", TypeGzip},
		{"x-gzip", TypeGzip},
		{"GZIP", TypeGzip},
		{"zstd", TypeZstd},
		{"snappy", TypeSnappy},
		{"x-snappy-framed", TypeSnappy},
		{"zlib", TypeZlib},
		{"deflate", TypeDeflate},
		{"lz4", TypeLZ4},
		{"identity", TypeNone},
		{"br", TypeNone},
	}

	for _, tt := range tests {
		if got := ParseContentEncoding(tt.encoding); got != tt.want {
			t.Errorf("ParseContentEncoding(%q) = %q, want %q", tt.encoding, got, tt.want)
		}
	}
}
