// Package protocol 定义客户端与服务端之间的 UDP 报文：
// Action（客户端意图，带序列号）与 Perception（服务端感知，带确认号）。
// 编码使用 MessagePack，每个报文不超过 MaxPacketSize。
package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"

	"spacearena/game"
)

// MaxPacketSize 单个 UDP 报文的上限（字节）
const MaxPacketSize = 512

var (
	ErrPacketTooLarge    = errors.New("protocol: packet exceeds maximum size")
	ErrBufferTooSmall    = errors.New("protocol: buffer too small for message")
	ErrMalformedSequence = errors.New("protocol: malformed sequence number")
	ErrUnknownStep       = errors.New("protocol: unknown step tag")
	ErrUnknownPercept    = errors.New("protocol: unknown percept tag")
	ErrTruncated         = errors.New("protocol: truncated packet")
	ErrTrailingData      = errors.New("protocol: trailing data after message")
	ErrMalformed         = errors.New("protocol: malformed packet")
)

// reader 包装解码器，统一把底层错误映射为本包的类型化错误
type reader struct {
	buf *bytes.Reader
	dec *msgpack.Decoder
}

func newReader(b []byte) *reader {
	buf := bytes.NewReader(b)
	return &reader{buf: buf, dec: msgpack.NewDecoder(buf)}
}

func (r *reader) remaining() int { return r.buf.Len() }

func (r *reader) wrap(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrTruncated
	}
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}

// uint64 只接受无符号整数编码，拒绝负数与浮点
func (r *reader) uint64() (uint64, error) {
	c, err := r.dec.PeekCode()
	if err != nil {
		return 0, r.wrap(err)
	}
	switch {
	case c <= msgpcode.PosFixedNumHigh,
		c == msgpcode.Uint8, c == msgpcode.Uint16, c == msgpcode.Uint32, c == msgpcode.Uint64:
	default:
		return 0, fmt.Errorf("%w: code 0x%x", ErrMalformed, c)
	}
	v, err := r.dec.DecodeUint64()
	if err != nil {
		return 0, r.wrap(err)
	}
	return v, nil
}

func (r *reader) uint8() (uint8, error) {
	v, err := r.uint64()
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint8 {
		return 0, fmt.Errorf("%w: value %d overflows uint8", ErrMalformed, v)
	}
	return uint8(v), nil
}

func (r *reader) float64() (float64, error) {
	v, err := r.dec.DecodeFloat64()
	if err != nil {
		return 0, r.wrap(err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: non-finite float", ErrMalformed)
	}
	return v, nil
}

func (r *reader) string() (string, error) {
	c, err := r.dec.PeekCode()
	if err != nil {
		return "", r.wrap(err)
	}
	if !msgpcode.IsString(c) {
		return "", fmt.Errorf("%w: code 0x%x is not a string", ErrMalformed, c)
	}
	s, err := r.dec.DecodeString()
	if err != nil {
		return "", r.wrap(err)
	}
	return s, nil
}

func (r *reader) vec2() (mgl64.Vec2, error) {
	x, err := r.float64()
	if err != nil {
		return mgl64.Vec2{}, err
	}
	y, err := r.float64()
	if err != nil {
		return mgl64.Vec2{}, err
	}
	return mgl64.Vec2{x, y}, nil
}

func (r *reader) entityID() (game.EntityID, error) {
	v, err := r.uint64()
	return game.EntityID(v), err
}

// writer 写入 MessagePack 字段；错误只会来自底层 bytes.Buffer，实际不会发生
type writer struct {
	buf bytes.Buffer
	enc *msgpack.Encoder
	err error
}

func newWriter() *writer {
	w := &writer{}
	w.enc = msgpack.NewEncoder(&w.buf)
	return w
}

func (w *writer) reset() {
	w.buf.Reset()
	w.err = nil
}

func (w *writer) keep(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *writer) uint64(v uint64)   { w.keep(w.enc.EncodeUint(v)) }
func (w *writer) uint8(v uint8)     { w.keep(w.enc.EncodeUint(uint64(v))) }
func (w *writer) float64(v float64) { w.keep(w.enc.EncodeFloat64(v)) }
func (w *writer) string(s string)   { w.keep(w.enc.EncodeString(s)) }
func (w *writer) null()             { w.keep(w.enc.EncodeNil()) }
func (w *writer) arrayLen(n int)    { w.keep(w.enc.EncodeArrayLen(n)) }

func (w *writer) vec2(v mgl64.Vec2) {
	w.float64(v.X())
	w.float64(v.Y())
}

func (w *writer) entityID(id game.EntityID) { w.uint64(uint64(id)) }
