package stream

import (
	"encoding/json"
	"time"
)

// Frame types written to clients.
const (
	FrameConnected = "connected"
	FrameMetrics   = "metrics"
	FrameLog       = "log"
	FrameError     = "error"
	FrameTimeout   = "timeout"
)

// Frame is one JSON message on a stream.
type Frame struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func encodeFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}
