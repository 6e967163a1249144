package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// ClientConn 观战者的 WebSocket 连接，负责发送（写）快照
type ClientConn struct {
	ws     *websocket.Conn
	send   chan []byte
	closed bool // 只在 Tick 线程读写
}

func NewClientConn(ws *websocket.Conn) *ClientConn {
	return &ClientConn{
		ws:   ws,
		send: make(chan []byte, 64),
	}
}

// Enqueue 将要发送的消息压入队列（非阻塞，满则丢弃）；只在 Tick 线程调用
func (c *ClientConn) Enqueue(b []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- b:
	default:
		// 为了实时性，丢弃旧消息（防止阻塞 Tick）
	}
}

// Close 关闭发送队列；只在 Tick 线程调用
func (c *ClientConn) Close() {
	if !c.closed {
		// 关闭发送通道以结束写协程
		c.closed = true
		close(c.send)
	}
}

// writePump 独立协程，负责从 send 队列写出到 WS
func (c *ClientConn) writePump() {
	defer c.ws.Close()
	for msg := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			Log.Debugf("spectator write: %v", err)
			return
		}
	}
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readPump 观战连接只读不写：丢弃收到的消息，直到连接断开
func (c *ClientConn) readPump(room *Room) {
	// 读泵退出时，通知房间在 Tick 线程中移除该观战者
	defer room.RequestLeave(c)
	c.ws.SetReadLimit(4096)
	c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.ws.SetPongHandler(func(string) error { c.ws.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// 观战数据只读且公开：允许所有来源
		return true
	},
}

// HandleSpectate WebSocket 观战接入：每 Tick 推送一次 WorldSnapshot（JSON）
func HandleSpectate(room *Room) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			Log.Warnf("upgrade error: %v", err)
			return
		}
		client := NewClientConn(ws)
		if !room.JoinSpectator(client) {
			ws.Close()
			return
		}
		Log.Infow("spectator joined", "remote", r.RemoteAddr)

		go client.writePump()
		go client.readPump(room)
	}
}
