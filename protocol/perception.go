package protocol

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5/msgpcode"

	"spacearena/game"
)

// PerceptionHeader 每个感知报文的头部
type PerceptionHeader struct {
	Confirm uint64         // 已处理的该客户端最大 Action 序列号
	SelfID  *game.EntityID // 该客户端的飞船 ID（登录后才有）
	Time    float64        // 产生该报文的 Tick 的服务器模拟时间（秒）
}

// Percept 感知条目的封闭联合类型
type Percept interface {
	perceptTag() uint8
}

const (
	tagBroadcastPercept uint8 = iota
	tagShipPercept
	tagPlanetPercept
	tagManeuverPercept
)

// BroadcastPercept 某艘飞船的当前广播
type BroadcastPercept struct {
	Sender  game.EntityID
	Message string
}

// ShipPercept 飞船的运动状态（力不上线，每 Tick 结束时为零）
type ShipPercept struct {
	ID   game.EntityID
	Body game.Body
}

// PlanetPercept 静态行星
type PlanetPercept struct {
	ID     game.EntityID
	Planet game.Planet
}

// ManeuverPercept 本客户端飞船的一个存活机动，只发给飞船所属的客户端，
// 其 ID 用于 CancelManeuver
type ManeuverPercept struct {
	ID     game.EntityID
	ShipID game.EntityID
	Data   game.ManeuverData
}

func (BroadcastPercept) perceptTag() uint8 { return tagBroadcastPercept }
func (ShipPercept) perceptTag() uint8      { return tagShipPercept }
func (PlanetPercept) perceptTag() uint8    { return tagPlanetPercept }
func (ManeuverPercept) perceptTag() uint8  { return tagManeuverPercept }

// Perception 服务端 → 客户端的完整报文
type Perception struct {
	Header   PerceptionHeader
	Percepts []Percept
}

func writeHeader(w *writer, h PerceptionHeader) {
	w.uint64(h.Confirm)
	if h.SelfID != nil {
		w.entityID(*h.SelfID)
	} else {
		w.null()
	}
	w.float64(h.Time)
}

func writePercept(w *writer, p Percept) {
	w.uint8(p.perceptTag())
	switch p := p.(type) {
	case BroadcastPercept:
		w.entityID(p.Sender)
		w.string(p.Message)
	case ShipPercept:
		w.entityID(p.ID)
		w.vec2(p.Body.Position)
		w.vec2(p.Body.Velocity)
		w.float64(p.Body.Mass)
	case PlanetPercept:
		w.entityID(p.ID)
		w.vec2(p.Planet.Position)
		w.float64(p.Planet.Radius)
		w.float64(p.Planet.Mass)
		w.uint8(p.Planet.Color.R)
		w.uint8(p.Planet.Color.G)
		w.uint8(p.Planet.Color.B)
	case ManeuverPercept:
		w.entityID(p.ID)
		w.entityID(p.ShipID)
		w.float64(p.Data.Start)
		w.float64(p.Data.Duration)
		w.float64(p.Data.Angle)
		w.float64(p.Data.Thrust)
	}
}

// Builder 按运行时大小累计把感知条目打包进不超过 limit 字节的报文。
// Add 返回 false 时调用方应 Encode 并发送当前报文，再用相同头部 Begin 新报文。
type Builder struct {
	limit   int
	header  []byte
	body    []byte
	scratch *writer
}

// NewBuilder 创建打包器；limit <= 0 时使用 MaxPacketSize
func NewBuilder(limit int) *Builder {
	if limit <= 0 {
		limit = MaxPacketSize
	}
	return &Builder{limit: limit, scratch: newWriter()}
}

// Begin 开始新报文，丢弃之前未编码的内容
func (b *Builder) Begin(h PerceptionHeader) {
	b.scratch.reset()
	writeHeader(b.scratch, h)
	b.header = append(b.header[:0], b.scratch.buf.Bytes()...)
	b.body = b.body[:0]
}

// Add 追加一个条目；放不下时返回 false 且报文不变
func (b *Builder) Add(p Percept) bool {
	b.scratch.reset()
	writePercept(b.scratch, p)
	if b.scratch.err != nil {
		return false
	}
	if len(b.header)+len(b.body)+b.scratch.buf.Len() > b.limit {
		return false
	}
	b.body = append(b.body, b.scratch.buf.Bytes()...)
	return true
}

// Empty 报文中是否还没有任何条目
func (b *Builder) Empty() bool { return len(b.body) == 0 }

// Len 当前报文的字节数
func (b *Builder) Len() int { return len(b.header) + len(b.body) }

// Encode 把报文写入调用方提供的缓冲区（使用其容量），返回写入的切片
func (b *Builder) Encode(buf []byte) ([]byte, error) {
	n := b.Len()
	if cap(buf) < n {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrBufferTooSmall, n, cap(buf))
	}
	buf = buf[:n]
	copy(buf, b.header)
	copy(buf[len(b.header):], b.body)
	return buf, nil
}

// EncodePerception 便捷编码；整体超过 MaxPacketSize 时报错
func EncodePerception(p Perception) ([]byte, error) {
	b := NewBuilder(MaxPacketSize)
	b.Begin(p.Header)
	for _, pc := range p.Percepts {
		if !b.Add(pc) {
			return nil, ErrPacketTooLarge
		}
	}
	return b.Encode(make([]byte, 0, MaxPacketSize))
}

// DecodePerception 解码任意字节；出错时返回零值与类型化错误
func DecodePerception(data []byte) (Perception, error) {
	r := newReader(data)
	h, err := readHeader(r)
	if err != nil {
		return Perception{}, err
	}
	var percepts []Percept
	for r.remaining() > 0 {
		p, err := readPercept(r)
		if err != nil {
			return Perception{}, err
		}
		percepts = append(percepts, p)
	}
	return Perception{Header: h, Percepts: percepts}, nil
}

func readHeader(r *reader) (PerceptionHeader, error) {
	var h PerceptionHeader
	confirm, err := r.uint64()
	if err != nil {
		if errors.Is(err, ErrTruncated) {
			return h, err
		}
		return h, fmt.Errorf("%w: %v", ErrMalformedSequence, err)
	}
	h.Confirm = confirm

	c, err := r.dec.PeekCode()
	if err != nil {
		return h, r.wrap(err)
	}
	if c == msgpcode.Nil {
		if err := r.dec.DecodeNil(); err != nil {
			return h, r.wrap(err)
		}
	} else {
		id, err := r.entityID()
		if err != nil {
			return h, err
		}
		h.SelfID = &id
	}

	if h.Time, err = r.float64(); err != nil {
		return h, err
	}
	return h, nil
}

func readPercept(r *reader) (Percept, error) {
	tag, err := r.uint8()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagBroadcastPercept:
		sender, err := r.entityID()
		if err != nil {
			return nil, err
		}
		msg, err := r.string()
		if err != nil {
			return nil, err
		}
		return BroadcastPercept{Sender: sender, Message: msg}, nil
	case tagShipPercept:
		var p ShipPercept
		if p.ID, err = r.entityID(); err != nil {
			return nil, err
		}
		if p.Body.Position, err = r.vec2(); err != nil {
			return nil, err
		}
		if p.Body.Velocity, err = r.vec2(); err != nil {
			return nil, err
		}
		if p.Body.Mass, err = r.float64(); err != nil {
			return nil, err
		}
		return p, nil
	case tagPlanetPercept:
		var p PlanetPercept
		if p.ID, err = r.entityID(); err != nil {
			return nil, err
		}
		if p.Planet.Position, err = r.vec2(); err != nil {
			return nil, err
		}
		if p.Planet.Radius, err = r.float64(); err != nil {
			return nil, err
		}
		if p.Planet.Mass, err = r.float64(); err != nil {
			return nil, err
		}
		for _, c := range []*uint8{&p.Planet.Color.R, &p.Planet.Color.G, &p.Planet.Color.B} {
			if *c, err = r.uint8(); err != nil {
				return nil, err
			}
		}
		return p, nil
	case tagManeuverPercept:
		var p ManeuverPercept
		if p.ID, err = r.entityID(); err != nil {
			return nil, err
		}
		if p.ShipID, err = r.entityID(); err != nil {
			return nil, err
		}
		for _, f := range []*float64{&p.Data.Start, &p.Data.Duration, &p.Data.Angle, &p.Data.Thrust} {
			if *f, err = r.float64(); err != nil {
				return nil, err
			}
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownPercept, tag)
	}
}
