package operations

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// WriteZstd compresses data into path, replacing it atomically.
func WriteZstd(path string, data []byte) error {
	tmpPath := path + ".tmp"

	outFile, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer os.Remove(tmpPath)
	defer outFile.Close()

	writer, err := zstd.NewWriter(outFile)
	if err != nil {
		return fmt.Errorf("failed to create Zstandard writer: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return fmt.Errorf("failed to compress data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to flush Zstandard writer: %w", err)
	}
	if err := outFile.Close(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}

	return os.Rename(tmpPath, path)
}

// ReadZstd returns the decompressed content of path.
func ReadZstd(path string) ([]byte, error) {
	inFile, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer inFile.Close()

	reader, err := zstd.NewReader(inFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create Zstandard reader: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress file: %w", err)
	}
	return data, nil
}
