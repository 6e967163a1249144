package server

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"spacearena/protocol"
)

// Listener 独立协程从 UDP 套接字读取并解码 Action，是邮箱的唯一写者
type Listener struct {
	conn        net.PacketConn
	inputs      chan<- Input
	metrics     *RoomMetrics
	readTimeout time.Duration
	now         func() time.Time
}

func NewListener(conn net.PacketConn, inputs chan<- Input, metrics *RoomMetrics, readTimeout time.Duration) *Listener {
	return &Listener{
		conn:        conn,
		inputs:      inputs,
		metrics:     metrics,
		readTimeout: readTimeout,
		now:         time.Now,
	}
}

// Run 循环读取直到 ctx 结束或套接字关闭。读带超时，便于定期检查 ctx。
func (l *Listener) Run(ctx context.Context) {
	buf := make([]byte, protocol.MaxPacketSize+1)
	for ctx.Err() == nil {
		if err := l.conn.SetReadDeadline(l.now().Add(l.readTimeout)); err != nil {
			Log.Errorf("set read deadline: %v", err)
			return
		}
		n, addr, err := l.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// 接收失败不致命；相关客户端会自然超时
			Log.Warnf("receive: %v", err)
			continue
		}
		l.handle(buf[:n], addr)
	}
}

func (l *Listener) handle(packet []byte, addr net.Addr) {
	if len(packet) > protocol.MaxPacketSize {
		l.metrics.IncDecodeErrors()
		Log.Debugw("dropping oversized packet", "addr", addr.String(), "size", len(packet))
		return
	}
	action, err := protocol.DecodeAction(packet)
	if err != nil {
		l.metrics.IncDecodeErrors()
		Log.Debugw("dropping undecodable packet", "addr", addr.String(), "err", err)
		return
	}
	in := Input{Addr: addr, Action: action, ReceivedAt: l.now()}
	// 不阻塞：邮箱满时丢弃，客户端会重发未确认的步骤
	select {
	case l.inputs <- in:
	default:
		l.metrics.IncChanFullDiscarded()
	}
}
