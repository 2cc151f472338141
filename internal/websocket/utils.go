package websocket

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

// WriteWait bounds a single frame write.
const WriteWait = 10 * time.Second

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(WriteWait))
	return conn.WriteJSON(v)
}

// WriteFrame sends an already encoded JSON frame.
func WriteFrame(conn *websocket.Conn, frame []byte) error {
	conn.SetWriteDeadline(time.Now().Add(WriteWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// WritePing sends a ping control frame.
func WritePing(conn *websocket.Conn) error {
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(WriteWait))
}

// ReadFrame reads one data frame, failing if nothing (not even a pong)
// arrives within wait.
func ReadFrame(conn *websocket.Conn, wait time.Duration) ([]byte, error) {
	conn.SetReadDeadline(time.Now().Add(wait))
	_, data, err := conn.ReadMessage()
	return data, err
}

// Encode marshals a server event. Events are plain structs, so a failure
// here is a programming error and yields an error frame instead.
func Encode(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return ErrorFrame("internal error")
	}
	return data
}

// EncodeRelayed builds a RelayedMessage frame. The payload bytes are copied
// as received, without re-encoding.
func EncodeRelayed(kind Kind, from string, payload json.RawMessage) []byte {
	head := Encode(struct {
		Type Kind   `json:"type"`
		From string `json:"from"`
	}{kind, from})
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}

	frame := make([]byte, 0, len(head)+len(payload)+len(`,"payload":`))
	frame = append(frame, head[:len(head)-1]...)
	frame = append(frame, `,"payload":`...)
	frame = append(frame, payload...)
	return append(frame, '}')
}

// ErrorFrame encodes an ErrorResponse.
func ErrorFrame(errMsg string) []byte {
	data, _ := json.Marshal(ErrorResponse{Type: EventError, Error: errMsg})
	return data
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func WriteError(conn *websocket.Conn, errMsg string) error {
	return WriteTyped(conn, ErrorResponse{
		Type:  EventError,
		Error: errMsg,
	})
}
