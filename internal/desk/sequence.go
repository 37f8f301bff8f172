package desk

import "context"

type inflight struct {
	seq    uint64
	cancel context.CancelFunc
}

// Sequencer 记录每个信号最近一次分析请求的序号；只有最新序号的结果会被采用。
// 仅由 actor goroutine 访问。
type Sequencer struct {
	latest   map[string]uint64
	inflight map[string]inflight
}

func NewSequencer() *Sequencer {
	return &Sequencer{
		latest:   make(map[string]uint64),
		inflight: make(map[string]inflight),
	}
}

// Begin 登记新请求并取消同一信号的在途请求；序号不大于已登记序号时返回 false。
func (s *Sequencer) Begin(parent context.Context, id string, seq uint64) (context.Context, bool) {
	if seq <= s.latest[id] {
		return nil, false
	}
	if cur, ok := s.inflight[id]; ok {
		cur.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	s.latest[id] = seq
	s.inflight[id] = inflight{seq: seq, cancel: cancel}
	return ctx, true
}

// IsLatest 结果是否仍对应该信号的在途请求。
func (s *Sequencer) IsLatest(id string, seq uint64) bool {
	cur, ok := s.inflight[id]
	return ok && cur.seq == seq
}

// Finish 请求结束，释放 context。
func (s *Sequencer) Finish(id string, seq uint64) {
	cur, ok := s.inflight[id]
	if !ok || cur.seq != seq {
		return
	}
	cur.cancel()
	delete(s.inflight, id)
}

// Cancel 取消在途请求，返回是否存在在途请求。
func (s *Sequencer) Cancel(id string) bool {
	cur, ok := s.inflight[id]
	if !ok {
		return false
	}
	cur.cancel()
	delete(s.inflight, id)
	return true
}

// CancelSeq 仅当在途请求的序号为 seq 时取消；seq 为 0 等同 Cancel。
func (s *Sequencer) CancelSeq(id string, seq uint64) bool {
	if seq == 0 {
		return s.Cancel(id)
	}
	cur, ok := s.inflight[id]
	if !ok || cur.seq != seq {
		return false
	}
	return s.Cancel(id)
}

func (s *Sequencer) InFlight(id string) bool {
	_, ok := s.inflight[id]
	return ok
}

// Forget 信号处置后清理记录。
func (s *Sequencer) Forget(id string) {
	s.Cancel(id)
	delete(s.latest, id)
}

// CancelAll desk 停止时调用。
func (s *Sequencer) CancelAll() {
	for id := range s.inflight {
		s.Cancel(id)
	}
}

// Latest 该信号最近登记的序号，未登记时为 0。
func (s *Sequencer) Latest(id string) uint64 {
	return s.latest[id]
}
