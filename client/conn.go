package client

import (
	"errors"
	"fmt"
	"math"
	"net"
	"sync"

	"go.uber.org/zap"

	"spacearena/game"
	"spacearena/protocol"
)

// ErrStepTooLarge 单个步骤编码后就超过报文上限（例如过长的广播）
var ErrStepTooLarge = errors.New("client: step does not fit in a packet")

type pendingStep struct {
	step   protocol.Step
	sentIn uint64 // 第一次携带该步骤的序列号，0 表示尚未发出
}

// Conn 到服务端的 UDP 连接。
// 每个 Action 的序列号严格递增；未确认的步骤在之后的每个 Action 里按原顺序重发，
// 直到服务端确认了第一次携带它的序列号。
type Conn struct {
	conn net.Conn
	log  *zap.SugaredLogger

	mu        sync.Mutex
	seq       uint64
	confirmed uint64
	pending   []pendingStep

	perceptions chan protocol.Perception
	done        chan struct{}
}

// Dial 连接服务端并启动接收协程
func Dial(addr string, log *zap.SugaredLogger) (*Conn, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	nc, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c := &Conn{
		conn:        nc,
		log:         log,
		perceptions: make(chan protocol.Perception, 256),
		done:        make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Perceptions 收到的感知报文；连接关闭后通道关闭
func (c *Conn) Perceptions() <-chan protocol.Perception { return c.perceptions }

func (c *Conn) readLoop() {
	defer close(c.done)
	defer close(c.perceptions)
	buf := make([]byte, protocol.MaxPacketSize+1)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// 例如服务端端口不可达，属于瞬时错误
			c.log.Debugw("receive failed", "err", err)
			continue
		}
		p, err := protocol.DecodePerception(buf[:n])
		if err != nil {
			c.log.Debugw("dropping undecodable perception", "size", n, "err", err)
			continue
		}
		c.ack(p.Header.Confirm)
		select {
		case c.perceptions <- p:
		default:
			c.log.Debugw("perception queue full, dropping", "time", p.Header.Time)
		}
	}
}

// ack 丢弃已被确认的步骤；确认号只增不减
func (c *Conn) ack(confirm uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if confirm <= c.confirmed {
		return
	}
	c.confirmed = confirm
	kept := c.pending[:0]
	for _, p := range c.pending {
		if p.sentIn == 0 || p.sentIn > confirm {
			kept = append(kept, p)
		}
	}
	c.pending = kept
}

// Send 追加步骤并发送一个新的 Action，携带所有未确认的步骤及其来源序列号；
// 没有待发步骤时发送心跳。放不下的步骤留到下一个 Action。
func (c *Conn) Send(steps ...protocol.Step) error {
	for _, s := range steps {
		if !fits([]protocol.Step{s}, []uint64{0}) {
			return fmt.Errorf("%w: %T", ErrStepTooLarge, s)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range steps {
		c.pending = append(c.pending, pendingStep{step: s})
	}
	c.seq++
	seq := c.seq

	carry := make([]protocol.Step, 0, len(c.pending))
	origins := make([]uint64, 0, len(c.pending))
	for _, p := range c.pending {
		carry = append(carry, p.step)
		origins = append(origins, p.sentIn)
	}
	if len(carry) == 0 {
		carry = append(carry, protocol.Heartbeat{})
		origins = append(origins, 0)
	}

	n := len(carry)
	for n > 1 && !fits(carry[:n], origins[:n]) {
		n--
	}
	for i := 0; i < n; i++ {
		if origins[i] == 0 {
			origins[i] = seq
		}
	}
	msg, err := protocol.Action{Seq: seq, Steps: carry[:n], Origins: origins[:n]}.Encode()
	if err != nil {
		return fmt.Errorf("encode action %d: %w", seq, err)
	}
	for i := 0; i < n && i < len(c.pending); i++ {
		if c.pending[i].sentIn == 0 {
			c.pending[i].sentIn = seq
		}
	}

	if _, err := c.conn.Write(msg); err != nil {
		return fmt.Errorf("send action %d: %w", seq, err)
	}
	return nil
}

// fits 以最大序列号估算大小（origin 为 0 表示尚未发出）。
// 一次放得下的前缀在之后的重发中也总放得下。
func fits(steps []protocol.Step, origins []uint64) bool {
	worst := make([]uint64, len(origins))
	for i, o := range origins {
		if o == 0 {
			o = math.MaxUint64
		}
		worst[i] = o
	}
	_, err := protocol.Action{Seq: math.MaxUint64, Steps: steps, Origins: worst}.Encode()
	return err == nil
}

// Heartbeat 保活；同时重发未确认的步骤
func (c *Conn) Heartbeat() error { return c.Send() }

func (c *Conn) Login() error { return c.Send(protocol.Login{}) }

func (c *Conn) ScheduleManeuver(d game.ManeuverData) error {
	return c.Send(protocol.ScheduleManeuver{Data: d})
}

func (c *Conn) CancelManeuver(id game.EntityID) error {
	return c.Send(protocol.CancelManeuver{ID: id})
}

func (c *Conn) StartBroadcast(message string) error {
	return c.Send(protocol.StartBroadcast{Message: message})
}

func (c *Conn) StopBroadcast() error { return c.Send(protocol.StopBroadcast{}) }

func (c *Conn) Leave() error { return c.Send(protocol.Leave{}) }

// Confirmed 服务端确认的最大序列号
func (c *Conn) Confirmed() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirmed
}

// Pending 尚未确认的步骤数
func (c *Conn) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Conn) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// Close 关闭套接字并等待接收协程退出
func (c *Conn) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}
