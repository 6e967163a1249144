package server

import (
	"net"
	"time"

	"spacearena/protocol"
)

// Input 已解码的客户端 Action，由监听协程写入邮箱，在 Tick 中解释并驱动世界状态
type Input struct {
	Addr       net.Addr
	Action     protocol.Action
	ReceivedAt time.Time
}
