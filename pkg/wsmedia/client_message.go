package wsmedia

import (
	"encoding/json"
	"strconv"
)

// Seconds is a duration in seconds serialised with exactly three decimals.
type Seconds float64

// MillisToSeconds converts a millisecond count to Seconds.
func MillisToSeconds(ms int64) Seconds {
	return Seconds(float64(ms) / 1000.0)
}

func (s Seconds) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(float64(s), 'f', 3, 64)), nil
}

func (s Seconds) String() string {
	return strconv.FormatFloat(float64(s), 'f', 3, 64)
}

// ClientInit opens the protocol. The server requires every non-optional field.
type ClientInit struct {
	InitID       uint32  `json:"initId"`
	SessionKey   string  `json:"sessionKey"`
	UserName     string  `json:"userName"`
	Channel      string  `json:"channel"`
	OS           string  `json:"os"`
	Browser      string  `json:"browser"`
	ScreenWidth  int     `json:"screenWidth"`
	ScreenHeight int     `json:"screenHeight"`
	NextVts      *uint64 `json:"nextVts,omitempty"`
	NextAts      *uint64 `json:"nextAts,omitempty"`
	Type         string  `json:"type"`
}

// BufferHealth is the telemetry snapshot shared by info and ack messages.
type BufferHealth struct {
	VideoBuffer   Seconds `json:"videoBuffer"`
	AudioBuffer   Seconds `json:"audioBuffer"`
	CumRebuffer   Seconds `json:"cumRebuffer"`
	VideoTimeline Seconds `json:"videoTimeline"`
}

// ClientInfo reports playback events and periodic buffer health.
type ClientInfo struct {
	InitID uint32 `json:"initId"`
	BufferHealth
	Event        string `json:"event"`
	ScreenWidth  int    `json:"screenWidth"`
	ScreenHeight int    `json:"screenHeight"`
	Type         string `json:"type"`
}

// ClientAck acknowledges one received fragment.
type ClientAck struct {
	InitID uint32 `json:"initId"`
	BufferHealth
	Channel         string   `json:"channel"`
	Format          string   `json:"format"`
	Timestamp       uint64   `json:"timestamp"`
	ByteOffset      int      `json:"byteOffset"`
	TotalByteLength int      `json:"totalByteLength"`
	ByteLength      int      `json:"byteLength"`
	SSIM            *float64 `json:"ssim,omitempty"`
	Type            string   `json:"type"`
}

func newClientInit(p SessionParams) *ClientInit {
	return &ClientInit{
		InitID:       p.InitID,
		SessionKey:   p.SessionKey,
		UserName:     p.UserName,
		Channel:      p.Channel,
		OS:           p.OS,
		Browser:      p.Browser,
		ScreenWidth:  p.ScreenWidth,
		ScreenHeight: p.ScreenHeight,
		NextVts:      p.NextVts,
		NextAts:      p.NextAts,
		Type:         MsgClientInit,
	}
}

func newClientInfo(p SessionParams, health BufferHealth, event string) *ClientInfo {
	return &ClientInfo{
		InitID:       p.InitID,
		BufferHealth: health,
		Event:        event,
		ScreenWidth:  p.ScreenWidth,
		ScreenHeight: p.ScreenHeight,
		Type:         MsgClientInfo,
	}
}

// newClientAck echoes the fragment identity back to the server. Video acks
// also carry the similarity score of the received chunk.
func newClientAck(p SessionParams, health BufferHealth, frame *Frame) *ClientAck {
	ack := &ClientAck{
		InitID:          p.InitID,
		BufferHealth:    health,
		Channel:         frame.Metadata.Channel,
		Format:          frame.Metadata.Format,
		Timestamp:       frame.Metadata.Timestamp,
		ByteOffset:      frame.Metadata.ByteOffset,
		TotalByteLength: frame.Metadata.TotalByteLength,
		ByteLength:      len(frame.Payload),
		Type:            MsgClientAudAck,
	}
	if frame.IsVideo() {
		ssim := frame.Metadata.SSIM
		ack.SSIM = &ssim
		ack.Type = MsgClientVidAck
	}
	return ack
}

func encodeMessage(msg any) ([]byte, error) {
	return json.Marshal(msg)
}
