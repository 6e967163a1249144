package server

// Sequencer 跟踪单个对端的 Action 序列号。
// 确认号只前进不后退：旧包或重放包无法让确认回退。
type Sequencer struct {
	confirmed uint64
	seen      bool
}

// Observe 记录一个到达的序列号；比已确认的大（或是第一个）时返回 true
func (s *Sequencer) Observe(seq uint64) bool {
	if s.seen && seq <= s.confirmed {
		return false
	}
	s.confirmed = seq
	s.seen = true
	return true
}

// Fresh 判断序列号是否比已确认的新，不修改状态
func (s *Sequencer) Fresh(seq uint64) bool {
	return !s.seen || seq > s.confirmed
}

// Confirmed 已处理的最大序列号
func (s *Sequencer) Confirmed() uint64 { return s.confirmed }

// Covers 报告来源序列号为 origin 的步骤是否已被应用过：
// 携带它的 Action 已被确认，重发时应跳过
func (s *Sequencer) Covers(origin uint64) bool {
	return s.seen && origin <= s.confirmed
}
