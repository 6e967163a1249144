package protocol

import (
	"errors"
	"fmt"

	"spacearena/game"
)

// Step 客户端意图的封闭联合类型，只能是本包定义的几种
type Step interface {
	stepTag() uint8
}

const (
	tagLogin uint8 = iota
	tagHeartbeat
	tagScheduleManeuver
	tagCancelManeuver
	tagStartBroadcast
	tagStopBroadcast
	tagLeave
)

// Login 以当前地址登录；重复登录无副作用
type Login struct{}

// Heartbeat 无操作，仅用于保活
type Heartbeat struct{}

// ScheduleManeuver 为自己的飞船安排一次机动
type ScheduleManeuver struct {
	Data game.ManeuverData
}

// CancelManeuver 取消自己飞船的某个机动
type CancelManeuver struct {
	ID game.EntityID
}

// StartBroadcast 设置（或替换）自己的广播
type StartBroadcast struct {
	Message string
}

// StopBroadcast 撤销自己的广播
type StopBroadcast struct{}

// Leave 主动离开，服务端立即销毁会话与飞船
type Leave struct{}

func (Login) stepTag() uint8            { return tagLogin }
func (Heartbeat) stepTag() uint8        { return tagHeartbeat }
func (ScheduleManeuver) stepTag() uint8 { return tagScheduleManeuver }
func (CancelManeuver) stepTag() uint8   { return tagCancelManeuver }
func (StartBroadcast) stepTag() uint8   { return tagStartBroadcast }
func (StopBroadcast) stepTag() uint8    { return tagStopBroadcast }
func (Leave) stepTag() uint8            { return tagLeave }

// Action 客户端 → 服务端：序列号 + 有序意图列表。
// Origins[i] 是第一次携带 Steps[i] 的 Action 序列号，重发时保持不变；
// 为空表示全部等于 Seq。解码结果总是带有与 Steps 等长的 Origins。
type Action struct {
	Seq     uint64
	Steps   []Step
	Origins []uint64
}

// HasLogin 判断是否包含登录步骤
func (a Action) HasLogin() bool {
	for _, s := range a.Steps {
		if _, ok := s.(Login); ok {
			return true
		}
	}
	return false
}

// Origin 第 i 个步骤的来源序列号
func (a Action) Origin(i int) uint64 {
	if i < len(a.Origins) {
		return a.Origins[i]
	}
	return a.Seq
}

// EncodeAction 编码一个全部为新步骤的 Action；超过 MaxPacketSize 返回 ErrPacketTooLarge
func EncodeAction(seq uint64, steps []Step) ([]byte, error) {
	return Action{Seq: seq, Steps: steps}.Encode()
}

// Encode 编码 Action；来源序列号不能晚于 Seq
func (a Action) Encode() ([]byte, error) {
	if len(a.Origins) != 0 && len(a.Origins) != len(a.Steps) {
		return nil, fmt.Errorf("%w: %d origins for %d steps", ErrMalformed, len(a.Origins), len(a.Steps))
	}
	w := newWriter()
	w.uint64(a.Seq)
	w.arrayLen(len(a.Steps))
	for i, s := range a.Steps {
		origin := a.Origin(i)
		if origin > a.Seq {
			return nil, fmt.Errorf("%w: step origin %d after action %d", ErrMalformed, origin, a.Seq)
		}
		w.uint64(origin)
		writeStep(w, s)
	}
	if w.err != nil {
		return nil, w.err
	}
	if w.buf.Len() > MaxPacketSize {
		return nil, fmt.Errorf("%w: action is %d bytes", ErrPacketTooLarge, w.buf.Len())
	}
	return w.buf.Bytes(), nil
}

func writeStep(w *writer, s Step) {
	w.uint8(s.stepTag())
	switch s := s.(type) {
	case ScheduleManeuver:
		w.float64(s.Data.Start)
		w.float64(s.Data.Duration)
		w.float64(s.Data.Angle)
		w.float64(s.Data.Thrust)
	case CancelManeuver:
		w.entityID(s.ID)
	case StartBroadcast:
		w.string(s.Message)
	case Login, Heartbeat, StopBroadcast, Leave:
	}
}

// DecodeAction 解码任意字节；出错时返回零值 Action 与类型化错误，从不 panic
func DecodeAction(b []byte) (Action, error) {
	r := newReader(b)
	seq, err := r.uint64()
	if err != nil {
		if errors.Is(err, ErrTruncated) {
			return Action{}, err
		}
		return Action{}, fmt.Errorf("%w: %v", ErrMalformedSequence, err)
	}
	n, err := r.dec.DecodeArrayLen()
	if err != nil {
		return Action{}, r.wrap(err)
	}
	// 每个步骤至少占 2 字节（来源序列号 + 标签）
	if n < 0 || 2*n > r.remaining() {
		return Action{}, fmt.Errorf("%w: step count %d", ErrMalformed, n)
	}
	steps := make([]Step, 0, n)
	origins := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		origin, err := r.uint64()
		if err != nil {
			return Action{}, err
		}
		if origin > seq {
			return Action{}, fmt.Errorf("%w: step origin %d after action %d", ErrMalformed, origin, seq)
		}
		s, err := readStep(r)
		if err != nil {
			return Action{}, err
		}
		steps = append(steps, s)
		origins = append(origins, origin)
	}
	if r.remaining() > 0 {
		return Action{}, ErrTrailingData
	}
	return Action{Seq: seq, Steps: steps, Origins: origins}, nil
}

func readStep(r *reader) (Step, error) {
	tag, err := r.uint8()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagLogin:
		return Login{}, nil
	case tagHeartbeat:
		return Heartbeat{}, nil
	case tagScheduleManeuver:
		var d game.ManeuverData
		for _, f := range []*float64{&d.Start, &d.Duration, &d.Angle, &d.Thrust} {
			if *f, err = r.float64(); err != nil {
				return nil, err
			}
		}
		return ScheduleManeuver{Data: d}, nil
	case tagCancelManeuver:
		id, err := r.entityID()
		if err != nil {
			return nil, err
		}
		return CancelManeuver{ID: id}, nil
	case tagStartBroadcast:
		msg, err := r.string()
		if err != nil {
			return nil, err
		}
		return StartBroadcast{Message: msg}, nil
	case tagStopBroadcast:
		return StopBroadcast{}, nil
	case tagLeave:
		return Leave{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownStep, tag)
	}
}
