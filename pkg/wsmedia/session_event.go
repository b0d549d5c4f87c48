package wsmedia

import "time"

// 서버 초기화 메시지 수신 이벤트
type ServerInitReceived struct {
	SessionId string
	Time      time.Time
	Matched   bool // false when the message did not look like server-init
}

// ack 전송 이벤트
type AckSent struct {
	SessionId string
	Time      time.Time
	Ack       *ClientAck
}

// client-info 전송 이벤트
type InfoSent struct {
	SessionId string
	Time      time.Time
	Info      *ClientInfo
}

// 손상된 프레임 폐기 이벤트
type FrameDropped struct {
	SessionId string
	Time      time.Time
	Err       error
}

// 리버퍼링 시작 이벤트
type RebufferStarted struct {
	SessionId string
	Time      time.Time
}

// 재생 재개 이벤트
type PlaybackResumed struct {
	SessionId  string
	Time       time.Time
	RebufferMs int64 // cumulative
}

// 세션 종료 이벤트
type SessionClosed struct {
	SessionId string
	Time      time.Time
	Err       error // nil on a clean close
}
