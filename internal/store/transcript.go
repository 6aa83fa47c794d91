package store

import (
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Transcripts are stored zstd-compressed. The package-level encoder and
// decoder are concurrency-safe in EncodeAll/DecodeAll mode.
var (
	transcriptEncoder *zstd.Encoder
	transcriptDecoder *zstd.Decoder
)

func init() {
	var err error
	transcriptEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("init zstd encoder: %v", err))
	}
	transcriptDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("init zstd decoder: %v", err))
	}
}

func compressTranscript(transcript string) []byte {
	return transcriptEncoder.EncodeAll([]byte(transcript), nil)
}

func decompressTranscript(blob []byte) (string, error) {
	if len(blob) == 0 {
		return "", nil
	}
	data, err := transcriptDecoder.DecodeAll(blob, nil)
	if err != nil {
		return "", fmt.Errorf("decompress transcript: %w", err)
	}
	return string(data), nil
}

// countWords returns the whitespace-delimited word count of a
// transcript.
func countWords(transcript string) int {
	return len(strings.Fields(transcript))
}
