package timeline

// Store 有序、只追加的 timeline。插入后不重排、不删除, 只允许按 ID patch。
//
// Store 不加锁: 所有写入由持有 Session 的单一控制流串行执行。
type Store struct {
	entries []Entry
	index   map[uint64]int
	seq     uint64
	rev     uint64
	changes []Change
}

// ChangeOp 变更类型。
type ChangeOp string

const (
	ChangeAppend ChangeOp = "append"
	ChangePatch  ChangeOp = "patch"
)

// Change 一次 timeline 变更, 供增量推送使用。
type Change struct {
	Op    ChangeOp `json:"op"`
	Entry Entry    `json:"entry"`
}

// NewStore 创建空 timeline。
func NewStore() *Store {
	return &Store{index: map[uint64]int{}}
}

// Append 分配 ID 并追加, 返回带 ID 的 entry。
func (s *Store) Append(e Entry) Entry {
	s.seq++
	e.ID = s.seq
	s.entries = append(s.entries, e)
	s.index[e.ID] = len(s.entries) - 1
	s.rev++
	s.changes = append(s.changes, Change{Op: ChangeAppend, Entry: e.Clone()})
	return e
}

// Patch 按 ID 修改 entry, ID 不存在返回 false。
func (s *Store) Patch(id uint64, patch func(*Entry)) bool {
	pos, ok := s.index[id]
	if !ok {
		return false
	}
	item := s.entries[pos]
	patch(&item)
	item.ID = id
	s.entries[pos] = item
	s.rev++
	s.changes = append(s.changes, Change{Op: ChangePatch, Entry: item.Clone()})
	return true
}

// Get 按 ID 读取 entry 副本。
func (s *Store) Get(id uint64) (Entry, bool) {
	pos, ok := s.index[id]
	if !ok {
		return Entry{}, false
	}
	return s.entries[pos].Clone(), true
}

// Len 返回 entry 数。
func (s *Store) Len() int { return len(s.entries) }

// Revision 每次 Append/Patch 自增, 订阅方据此判断是否需要重推。
func (s *Store) Revision() uint64 { return s.rev }

// Entries 返回全部 entry 的深拷贝。
func (s *Store) Entries() []Entry {
	return s.Since(0)
}

// Since 返回 ID 大于 afterID 的 entry 深拷贝 (增量推送)。
func (s *Store) Since(afterID uint64) []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.ID > afterID {
			out = append(out, e.Clone())
		}
	}
	return out
}

// Last 返回最后一个 entry。
func (s *Store) Last() (Entry, bool) {
	if len(s.entries) == 0 {
		return Entry{}, false
	}
	return s.entries[len(s.entries)-1].Clone(), true
}

// DrainChanges 取出并清空自上次 Drain 以来的变更。
func (s *Store) DrainChanges() []Change {
	out := s.changes
	s.changes = nil
	return out
}
