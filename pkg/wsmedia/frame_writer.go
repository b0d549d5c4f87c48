package wsmedia

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// EncodeFrame builds a binary media message the way the media server does:
// a big-endian uint16 metadata length, the metadata JSON and the payload.
// Metadata longer than 255 bytes is rejected because DecodeFrame's
// decimal-digit prefix arithmetic cannot recover such lengths.
func EncodeFrame(metadata Metadata, payload []byte) ([]byte, error) {
	// ssim은 비디오 프레임에만 포함 (0.0도 그대로 보냄)
	wire := struct {
		Metadata
		SSIM *float64 `json:"ssim,omitempty"`
	}{Metadata: metadata}
	if metadata.Type == MsgServerVideo {
		wire.SSIM = &metadata.SSIM
	}

	header, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	if len(header) > maxMetadataSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMetadataTooLarge, len(header))
	}

	frame := make([]byte, lengthPrefixSize+len(header)+len(payload))
	binary.BigEndian.PutUint16(frame[0:], uint16(len(header)))
	copy(frame[lengthPrefixSize:], header)
	copy(frame[lengthPrefixSize+len(header):], payload)
	return frame, nil
}
