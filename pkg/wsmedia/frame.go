package wsmedia

// Metadata is the JSON header carried in front of every media frame.
type Metadata struct {
	Type            string  `json:"type"`
	Channel         string  `json:"channel"`
	Format          string  `json:"format"`
	Timestamp       uint64  `json:"timestamp"`
	ByteOffset      int     `json:"byteOffset"`
	TotalByteLength int     `json:"totalByteLength"`
	SSIM            float64 `json:"ssim,omitempty"`
}

// Frame is one decoded inbound websocket message. It is not retained after
// the protocol has processed it.
type Frame struct {
	MetadataLength int
	Metadata       Metadata
	Payload        []byte
}

func (f *Frame) IsVideo() bool { return f.Metadata.Type == MsgServerVideo }

func (f *Frame) IsAudio() bool { return f.Metadata.Type == MsgServerAudio }

// IsLastFragment reports whether this fragment completes its chunk.
func (f *Frame) IsLastFragment() bool {
	return f.Metadata.ByteOffset+len(f.Payload) == f.Metadata.TotalByteLength
}

// chunkKey identifies the media chunk a fragment belongs to.
type chunkKey struct {
	channel   string
	timestamp uint64
}

func (f *Frame) chunk() chunkKey {
	return chunkKey{channel: f.Metadata.Channel, timestamp: f.Metadata.Timestamp}
}
