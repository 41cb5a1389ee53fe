package window

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xxxsen/chatpress/internal/model"
	"github.com/xxxsen/chatpress/internal/pkg/errs"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type Policy string

const (
	PolicyMessages Policy = "messages"
	PolicyDuration Policy = "duration"
	PolicyBytes    Policy = "bytes"
)

// bytesPerToken is the heuristic used to price a window against the
// token ceiling without calling a tokenizer.
const bytesPerToken = 4

type Config struct {
	Policy            Policy
	Size              int
	Duration          time.Duration
	MaxBytes          int
	OverlapRatio      float64
	MaxWindowTokens   int
	MinWindowMessages int
}

type Windower struct {
	cfg Config
}

func New(ctx context.Context, cfg Config) (*Windower, error) {
	switch cfg.Policy {
	case PolicyMessages:
		if cfg.Size <= 0 {
			return nil, fmt.Errorf("%w: messages policy needs size > 0", errs.ErrInvalid)
		}
	case PolicyDuration:
		if cfg.Duration <= 0 {
			return nil, fmt.Errorf("%w: duration policy needs duration > 0", errs.ErrInvalid)
		}
	case PolicyBytes:
		if cfg.MaxBytes <= 0 {
			return nil, fmt.Errorf("%w: bytes policy needs max_bytes > 0", errs.ErrInvalid)
		}
	default:
		return nil, fmt.Errorf("%w: unknown window policy: %s", errs.ErrInvalid, cfg.Policy)
	}
	if cfg.OverlapRatio < 0 || cfg.OverlapRatio > 0.5 {
		clamped := cfg.OverlapRatio
		if clamped < 0 {
			clamped = 0
		} else {
			clamped = 0.5
		}
		logutil.GetLogger(ctx).Warn("overlap ratio out of range, clamping",
			zap.Float64("requested", cfg.OverlapRatio), zap.Float64("clamped", clamped))
		cfg.OverlapRatio = clamped
	}
	if cfg.MaxWindowTokens <= 0 {
		return nil, fmt.Errorf("%w: max_window_tokens must be > 0", errs.ErrInvalid)
	}
	return &Windower{cfg: cfg}, nil
}

// Iterate walks the message stream as a lazy window sequence. The
// stream must already be sorted by timestamp ascending.
func (w *Windower) Iterate(msgs []model.Message) *Iterator {
	return &Iterator{cfg: w.cfg, msgs: msgs}
}

// span is a half-open index range into the message stream.
type span struct {
	lo int
	hi int
}

type Iterator struct {
	cfg  Config
	msgs []model.Message

	nextIndex int
	pending   []model.Window // queued sub-windows from an auto-split
	peeked    *span

	cursor    int       // messages and bytes policies
	tcursor   time.Time // duration policy
	started   bool
	exhausted bool
}

// Next returns the next window in stream order. The bool is false once
// the stream is exhausted. A non-nil error with bool true reports a
// window that cannot be formed (a single message above the token
// ceiling); iteration may continue past it.
func (it *Iterator) Next() (model.Window, bool, error) {
	if len(it.pending) > 0 {
		win := it.pending[0]
		it.pending = it.pending[1:]
		win.Index = it.nextIndex
		it.nextIndex++
		return win, true, nil
	}

	sp, ok := it.takeBase()
	if !ok {
		return model.Window{}, false, nil
	}

	// Merge undersized windows into the following one. The final
	// window is exempt so trailing messages are never dropped.
	for sp.hi-sp.lo < it.cfg.MinWindowMessages {
		next, ok := it.peekBase()
		if !ok {
			break
		}
		sp.hi = next.hi
		it.peeked = nil
	}

	if it.spanTokens(sp) > it.cfg.MaxWindowTokens {
		subs, err := it.split(sp)
		if err != nil {
			win := it.buildWindow(sp)
			win.Index = it.nextIndex
			it.nextIndex++
			return win, true, err
		}
		it.pending = subs
		return it.Next()
	}

	win := it.buildWindow(sp)
	win.Index = it.nextIndex
	it.nextIndex++
	return win, true, nil
}

func (it *Iterator) buildWindow(sp span) model.Window {
	msgs := make([]model.Message, sp.hi-sp.lo)
	copy(msgs, it.msgs[sp.lo:sp.hi])
	win := model.Window{
		Messages: msgs,
		Size:     len(msgs),
	}
	if len(msgs) > 0 {
		win.StartTime = msgs[0].Timestamp
		win.EndTime = msgs[len(msgs)-1].Timestamp
	}
	return win
}

// split cuts an oversized span into contiguous sub-windows, each under
// the token ceiling. Sub-windows inherit the parent's time bounds and
// concatenate back to the parent's exact message order.
func (it *Iterator) split(sp span) ([]model.Window, error) {
	ceiling := it.cfg.MaxWindowTokens
	parent := it.buildWindow(sp)

	var subs []model.Window
	lo := sp.lo
	acc := 0
	for i := sp.lo; i < sp.hi; i++ {
		cost := messageTokens(it.msgs[i])
		if cost > ceiling {
			return nil, fmt.Errorf("%w: message %s costs %d tokens, ceiling %d",
				errs.ErrWindowSizeExceeded, it.msgs[i].ID, cost, ceiling)
		}
		if i > lo && acc+cost > ceiling {
			subs = append(subs, it.subWindow(span{lo: lo, hi: i}, parent))
			lo = i
			acc = 0
		}
		acc += cost
	}
	subs = append(subs, it.subWindow(span{lo: lo, hi: sp.hi}, parent))
	return subs, nil
}

func (it *Iterator) subWindow(sp span, parent model.Window) model.Window {
	win := it.buildWindow(sp)
	win.StartTime = parent.StartTime
	win.EndTime = parent.EndTime
	return win
}

func (it *Iterator) spanTokens(sp span) int {
	total := 0
	for i := sp.lo; i < sp.hi; i++ {
		total += messageTokens(it.msgs[i])
	}
	return total
}

func messageTokens(m model.Message) int {
	cost := (len(m.Author) + len(m.Body)) / bytesPerToken
	if cost == 0 {
		cost = 1
	}
	return cost
}

func (it *Iterator) takeBase() (span, bool) {
	if it.peeked != nil {
		sp := *it.peeked
		it.peeked = nil
		return sp, true
	}
	return it.nextBase()
}

func (it *Iterator) peekBase() (span, bool) {
	if it.peeked == nil {
		sp, ok := it.nextBase()
		if !ok {
			return span{}, false
		}
		it.peeked = &sp
	}
	return *it.peeked, true
}

func (it *Iterator) nextBase() (span, bool) {
	if it.exhausted || len(it.msgs) == 0 {
		return span{}, false
	}
	switch it.cfg.Policy {
	case PolicyMessages:
		return it.nextByMessages()
	case PolicyDuration:
		return it.nextByDuration()
	case PolicyBytes:
		return it.nextByBytes()
	}
	return span{}, false
}

func (it *Iterator) nextByMessages() (span, bool) {
	size := it.cfg.Size
	overlap := int(float64(size) * it.cfg.OverlapRatio)
	step := size - overlap

	lo := it.cursor
	hi := lo + size
	if hi >= len(it.msgs) {
		hi = len(it.msgs)
		it.exhausted = true
	}
	it.cursor = lo + step
	return span{lo: lo, hi: hi}, true
}

func (it *Iterator) nextByDuration() (span, bool) {
	dur := it.cfg.Duration
	overlap := time.Duration(float64(dur) * it.cfg.OverlapRatio)
	step := dur - overlap

	if !it.started {
		it.tcursor = it.msgs[0].Timestamp
		it.started = true
	}
	for {
		cur := it.tcursor
		lo := sort.Search(len(it.msgs), func(i int) bool {
			return !it.msgs[i].Timestamp.Before(cur)
		})
		hi := sort.Search(len(it.msgs), func(i int) bool {
			return !it.msgs[i].Timestamp.Before(cur.Add(dur))
		})
		it.tcursor = cur.Add(step)
		if hi >= len(it.msgs) {
			it.exhausted = true
		}
		if lo == hi {
			if it.exhausted {
				return span{}, false
			}
			continue
		}
		return span{lo: lo, hi: hi}, true
	}
}

func (it *Iterator) nextByBytes() (span, bool) {
	maxBytes := it.cfg.MaxBytes
	lo := it.cursor
	total := 0
	hi := lo
	for hi < len(it.msgs) {
		cost := len(it.msgs[hi].Author) + len(it.msgs[hi].Body)
		if hi > lo && total+cost > maxBytes {
			break
		}
		total += cost
		hi++
	}
	if hi >= len(it.msgs) {
		it.exhausted = true
	}

	// Rewind the next window start so it re-reads a tail of this one,
	// keeping at least one fresh message of progress.
	target := int(float64(maxBytes) * it.cfg.OverlapRatio)
	next := hi
	carried := 0
	for next > lo+1 {
		cost := len(it.msgs[next-1].Author) + len(it.msgs[next-1].Body)
		if carried+cost > target {
			break
		}
		carried += cost
		next--
	}
	it.cursor = next
	return span{lo: lo, hi: hi}, true
}
