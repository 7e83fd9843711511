// batches.go — 图片生成批次与单选不变量。
package timeline

import (
	"strings"

	apperrors "github.com/multi-agent/deckstudio/pkg/errors"
)

// CandidateRef 批次内的一张候选图, EntryID 指向对应 image_candidate entry。
type CandidateRef struct {
	Index     int    `json:"index"`
	ImagePath string `json:"imagePath"`
	EntryID   uint64 `json:"entryId"`
}

// ImageProgress image_progress 事件快照。
type ImageProgress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Status  string `json:"status,omitempty"`
}

// ImageBatch 一轮图片生成。SelectedIndex 同一时刻最多一个。
type ImageBatch struct {
	Slug           string         `json:"slug"`
	Prompt         string         `json:"prompt,omitempty"`
	Candidates     []CandidateRef `json:"candidates"`
	SelectedIndex  *int           `json:"selectedIndex,omitempty"`
	Ready          bool           `json:"ready,omitempty"`
	RequestEntryID uint64         `json:"requestEntryId,omitempty"`

	// selTicket 产生当前 SelectedIndex 的那次选择; tickets 单调递增
	selTicket uint64
	tickets   uint64
}

func (b *ImageBatch) candidate(index int) (CandidateRef, bool) {
	for _, c := range b.Candidates {
		if c.Index == index {
			return c, true
		}
	}
	return CandidateRef{}, false
}

// Selection 一次成功选择的结果, 供调用方 patch timeline。
type Selection struct {
	Slug          string
	Index         int
	EntryID       uint64
	Previous      *int
	PrevEntryID   uint64
	AlreadyActive bool

	// Ticket 本次选择的序号, PrevTicket 被替换的那次选择; 回滚时据此判断是否已被后续选择覆盖
	Ticket     uint64
	PrevTicket uint64
}

// BatchTracker 持有本 presentation 的全部批次。
type BatchTracker struct {
	batches map[string]*ImageBatch
	order   []string
	current string
}

// NewBatchTracker 创建空 tracker。
func NewBatchTracker() *BatchTracker {
	return &BatchTracker{batches: map[string]*ImageBatch{}}
}

// Open 打开批次 (幂等)。
//
// slug 已存在且 prompt 不同视为 slug 冲突: 保留原批次并返回 ErrSlugCollision,
// 不做静默合并。已隐式创建 (无 prompt) 的批次会补上 prompt。
func (t *BatchTracker) Open(slug, prompt string) (*ImageBatch, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "BatchTracker.Open", "empty batch slug")
	}
	prompt = strings.TrimSpace(prompt)
	if b, ok := t.batches[slug]; ok {
		if prompt != "" && b.Prompt != "" && b.Prompt != prompt {
			return b, apperrors.Wrapf(apperrors.ErrSlugCollision, "BatchTracker.Open", "slug %q reused with a different prompt", slug)
		}
		if b.Prompt == "" {
			b.Prompt = prompt
		}
		t.current = slug
		return b, nil
	}
	b := &ImageBatch{Slug: slug, Prompt: prompt, Candidates: []CandidateRef{}}
	t.batches[slug] = b
	t.order = append(t.order, slug)
	t.current = slug
	return b, nil
}

// AddCandidate 幂等 upsert: 未知 slug 隐式打开; 同一 index 重复到达时忽略并返回 false。
func (t *BatchTracker) AddCandidate(slug string, index int, imagePath string) (*ImageBatch, bool, error) {
	if index < 0 {
		return nil, false, apperrors.Wrapf(apperrors.ErrInvalidInput, "BatchTracker.AddCandidate", "negative index %d", index)
	}
	slug = strings.TrimSpace(slug)
	b, ok := t.batches[slug]
	if !ok {
		if slug == "" {
			return nil, false, apperrors.Wrap(apperrors.ErrInvalidInput, "BatchTracker.AddCandidate", "empty batch slug")
		}
		b = &ImageBatch{Slug: slug, Candidates: []CandidateRef{}}
		t.batches[slug] = b
		t.order = append(t.order, slug)
	}
	if _, exists := b.candidate(index); exists {
		return b, false, nil
	}
	b.Candidates = append(b.Candidates, CandidateRef{Index: index, ImagePath: imagePath})
	return b, true, nil
}

// BindEntry 记录候选图对应的 timeline entry。
func (t *BatchTracker) BindEntry(slug string, index int, entryID uint64) {
	b, ok := t.batches[slug]
	if !ok {
		return
	}
	for i := range b.Candidates {
		if b.Candidates[i].Index == index {
			b.Candidates[i].EntryID = entryID
			return
		}
	}
}

// Select 设置批次的选中项, 并清除同批次之前的选中。index 从未出现过则返回 ErrUnknownCandidate。
func (t *BatchTracker) Select(slug string, index int) (Selection, error) {
	slug = strings.TrimSpace(slug)
	b, ok := t.batches[slug]
	if !ok {
		return Selection{}, apperrors.Wrapf(apperrors.ErrUnknownCandidate, "BatchTracker.Select", "unknown batch %q", slug)
	}
	c, ok := b.candidate(index)
	if !ok {
		return Selection{}, apperrors.Wrapf(apperrors.ErrUnknownCandidate, "BatchTracker.Select", "batch %q has no candidate %d", slug, index)
	}
	sel := Selection{Slug: slug, Index: index, EntryID: c.EntryID, PrevTicket: b.selTicket}
	if b.SelectedIndex != nil {
		prev := *b.SelectedIndex
		sel.Previous = &prev
		if prev == index {
			sel.AlreadyActive = true
		} else if pc, ok := b.candidate(prev); ok {
			sel.PrevEntryID = pc.EntryID
		}
	}
	if sel.AlreadyActive {
		sel.Ticket = b.selTicket
		return sel, nil
	}
	b.tickets++
	b.selTicket = b.tickets
	sel.Ticket = b.selTicket
	selected := index
	b.SelectedIndex = &selected
	return sel, nil
}

// Restore 撤销 sel, 恢复它替换掉的选中项, 用于外部持久化失败后的回滚。
// 之后又有别的选择生效时 (ticket 不再是当前) 不做任何修改并返回 false。
func (t *BatchTracker) Restore(sel Selection) bool {
	b, ok := t.batches[sel.Slug]
	if !ok || sel.AlreadyActive || b.selTicket != sel.Ticket {
		return false
	}
	b.selTicket = sel.PrevTicket
	if sel.Previous == nil {
		b.SelectedIndex = nil
		return true
	}
	v := *sel.Previous
	b.SelectedIndex = &v
	return true
}

// MarkReady images_ready。
func (t *BatchTracker) MarkReady(slug string) bool {
	b, ok := t.batches[strings.TrimSpace(slug)]
	if !ok {
		return false
	}
	b.Ready = true
	return true
}

// Get 读取批次副本。
func (t *BatchTracker) Get(slug string) (ImageBatch, bool) {
	b, ok := t.batches[slug]
	if !ok {
		return ImageBatch{}, false
	}
	return b.clone(), true
}

// CurrentSlug 最近一次由聊天请求打开的批次。
func (t *BatchTracker) CurrentSlug() string { return t.current }

// ActiveSlug 后端当前等待选择的批次: CurrentSlug, 没有时取最近创建的批次。
func (t *BatchTracker) ActiveSlug() string {
	if t.current != "" || len(t.order) == 0 {
		return t.current
	}
	return t.order[len(t.order)-1]
}

// Batches 按创建顺序返回全部批次副本。
func (t *BatchTracker) Batches() []ImageBatch {
	out := make([]ImageBatch, 0, len(t.order))
	for _, slug := range t.order {
		out = append(out, t.batches[slug].clone())
	}
	return out
}

func (b *ImageBatch) clone() ImageBatch {
	out := *b
	out.Candidates = append([]CandidateRef(nil), b.Candidates...)
	if b.SelectedIndex != nil {
		v := *b.SelectedIndex
		out.SelectedIndex = &v
	}
	return out
}
