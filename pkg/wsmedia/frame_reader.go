package wsmedia

import (
	"encoding/json"
)

// rawMetadata uses pointers so that absent fields can be told apart from zero values.
type rawMetadata struct {
	Type            *string  `json:"type"`
	Channel         *string  `json:"channel"`
	Format          *string  `json:"format"`
	Timestamp       *uint64  `json:"timestamp"`
	ByteOffset      *int     `json:"byteOffset"`
	TotalByteLength *int     `json:"totalByteLength"`
	SSIM            *float64 `json:"ssim"`
}

// DecodeFrame parses a binary message of the form
// [2-byte length prefix][metadata JSON][payload].
func DecodeFrame(data []byte) (*Frame, error) {
	metadataLength, err := readLengthPrefix(data)
	if err != nil {
		return nil, err
	}

	end := lengthPrefixSize + metadataLength
	if end > len(data) {
		return nil, decodeErrorf("metadata length %d exceeds frame size %d", metadataLength, len(data))
	}

	var raw rawMetadata
	if err := json.Unmarshal(data[lengthPrefixSize:end], &raw); err != nil {
		return nil, &DecodeError{Reason: "invalid metadata json", Err: err}
	}

	metadata, err := raw.validate()
	if err != nil {
		return nil, err
	}

	frame := &Frame{
		MetadataLength: metadataLength,
		Metadata:       metadata,
		Payload:        data[end:],
	}

	if metadata.ByteOffset < 0 || metadata.ByteOffset+len(frame.Payload) > metadata.TotalByteLength {
		return nil, decodeErrorf("fragment [%d,+%d) outside total length %d",
			metadata.ByteOffset, len(frame.Payload), metadata.TotalByteLength)
	}

	return frame, nil
}

// readLengthPrefix accumulates each prefix byte as a decimal digit
// (n = n*10 + b). This is what deployed clients do; it only matches the
// server's big-endian uint16 while the high byte is zero.
func readLengthPrefix(data []byte) (int, error) {
	if len(data) < lengthPrefixSize {
		return 0, decodeErrorf("frame too short: %d bytes", len(data))
	}
	n := 0
	for i := 0; i < lengthPrefixSize; i++ {
		n = n*10 + int(data[i])
	}
	return n, nil
}

func (r *rawMetadata) validate() (Metadata, error) {
	if r.Type == nil {
		return Metadata{}, decodeErrorf("missing field %q", "type")
	}
	if r.ByteOffset == nil {
		return Metadata{}, decodeErrorf("missing field %q", "byteOffset")
	}
	if r.TotalByteLength == nil {
		return Metadata{}, decodeErrorf("missing field %q", "totalByteLength")
	}

	m := Metadata{
		Type:            *r.Type,
		ByteOffset:      *r.ByteOffset,
		TotalByteLength: *r.TotalByteLength,
	}

	switch m.Type {
	case MsgServerVideo, MsgServerAudio:
	default:
		return Metadata{}, decodeErrorf("unexpected frame type %q", m.Type)
	}

	if r.Channel == nil {
		return Metadata{}, decodeErrorf("missing field %q", "channel")
	}
	if r.Format == nil {
		return Metadata{}, decodeErrorf("missing field %q", "format")
	}
	if r.Timestamp == nil {
		return Metadata{}, decodeErrorf("missing field %q", "timestamp")
	}
	m.Channel = *r.Channel
	m.Format = *r.Format
	m.Timestamp = *r.Timestamp

	if m.Type == MsgServerVideo {
		if r.SSIM == nil {
			return Metadata{}, decodeErrorf("missing field %q", "ssim")
		}
		m.SSIM = *r.SSIM
	}

	return m, nil
}
