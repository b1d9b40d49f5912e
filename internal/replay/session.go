package replay

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/btree"

	"github.com/marketspine/marketspine/internal/publisher"
	"github.com/marketspine/marketspine/internal/recorder"
	"github.com/marketspine/marketspine/internal/symbol"
	"github.com/marketspine/marketspine/internal/wire"
)

const pausePollInterval = 100 * time.Millisecond

// Session is one server-side replay: an id, a time range, a topic
// pattern list, a rate multiplier, and a token-bucket-paced playback
// task reading persisted segments.
type Session struct {
	ID          string
	FromTsNs    uint64
	ToTsNs      uint64
	RateMul     float64
	subs        []publisher.Subscription

	registry *symbol.Registry
	pub      *publisher.Publisher
	discover *discovery
	bucket   *tokenBucket

	paused  atomic.Bool
	stopped atomic.Bool
	watermarkNs atomic.Uint64

	segments   []segmentInfo
	segIdx     int
	dataFile   *os.File
	cursor     int64
	prevTsNs   uint64
	firstFrame bool

	mu sync.Mutex
	wg sync.WaitGroup
}

func newSession(id string, from, to uint64, topics []string, rate float64, reg *symbol.Registry, pub *publisher.Publisher, disc *discovery) *Session {
	subs := make([]publisher.Subscription, len(topics))
	for i, t := range topics {
		subs[i] = publisher.NewSubscription(t, false)
	}
	return &Session{
		ID:         id,
		FromTsNs:   from,
		ToTsNs:     to,
		RateMul:    rate,
		subs:       subs,
		registry:   reg,
		pub:        pub,
		discover:   disc,
		bucket:     newTokenBucket(rate),
		firstFrame: true,
	}
}

func (s *Session) matches(topic string) bool {
	for _, sub := range s.subs {
		if sub.Match(topic) {
			return true
		}
	}
	return false
}

// open locates and opens the segment containing s.FromTsNs, per
// spec.md §4.7 Start.
func (s *Session) open() error {
	segments, err := s.discover.list()
	if err != nil {
		return err
	}
	idx, ok := findContaining(segments, s.FromTsNs)
	if !ok {
		return errNoSegmentCovering
	}
	s.segments = segments
	return s.openSegmentAt(idx, s.FromTsNs)
}

func (s *Session) openSegmentAt(idx int, seekTs uint64) error {
	if s.dataFile != nil {
		s.dataFile.Close()
	}
	seg := s.segments[idx]
	f, err := os.Open(seg.DataPath)
	if err != nil {
		return err
	}
	s.dataFile = f
	s.segIdx = idx

	offset, err := seekOffset(seg, seekTs)
	if err != nil {
		offset = recorder.HeaderBytes
	}
	s.cursor = offset
	s.firstFrame = true
	return nil
}

// seekOffset loads the segment's index file into a btree.Map and
// finds the last entry with ts <= target, per spec.md §4.7's binary
// search description (a sorted-map predecessor query is the
// idiomatic Go equivalent of the original's binary search over a
// flat array).
func seekOffset(seg segmentInfo, target uint64) (int64, error) {
	data, err := os.ReadFile(seg.IndexPath)
	if err != nil {
		return recorder.HeaderBytes, nil // no index yet; start at header
	}
	idx := &btree.Map[uint64, uint64]{}
	for off := 0; off+recorder.IndexEntryLen <= len(data); off += recorder.IndexEntryLen {
		e := recorder.DecodeIndexEntry(data[off : off+recorder.IndexEntryLen])
		idx.Set(e.FirstTsNs, e.FileOffset)
	}
	var found bool
	var offset uint64
	idx.Descend(target, func(_ uint64, v uint64) bool {
		offset = v
		found = true
		return false
	})
	if !found {
		return recorder.HeaderBytes, nil
	}
	return int64(offset), nil
}

// readNext reads and decodes the next frame from the current
// segment, advancing to the next segment on EOF if one exists and
// starts at or before s.ToTsNs.
func (s *Session) readNext() (wire.Frame, bool, error) {
	hdr := make([]byte, wire.HeaderBytes)
	n, err := s.dataFile.ReadAt(hdr, s.cursor)
	if n < wire.HeaderBytes || err != nil {
		return s.advanceSegment()
	}
	bodyLen := int(hdr[8]) | int(hdr[9])<<8 | int(hdr[10])<<16 | int(hdr[11])<<24
	buf := make([]byte, wire.HeaderBytes+bodyLen)
	copy(buf, hdr)
	n, err = s.dataFile.ReadAt(buf[wire.HeaderBytes:], s.cursor+wire.HeaderBytes)
	if n < bodyLen || err != nil {
		return s.advanceSegment()
	}
	f, total, err := wire.Decode(buf)
	if err != nil {
		// malformed header or CRC failure: end the session gracefully
		return wire.Frame{}, false, nil
	}
	s.cursor += int64(total)
	return f, true, nil
}

func (s *Session) advanceSegment() (wire.Frame, bool, error) {
	next := s.segIdx + 1
	if next >= len(s.segments) || s.segments[next].StartTsNs > s.ToTsNs {
		return wire.Frame{}, false, nil
	}
	if err := s.openSegmentAt(next, s.segments[next].StartTsNs); err != nil {
		return wire.Frame{}, false, err
	}
	return s.readNext()
}

var errNoSegmentCovering = errNoSegment{}

type errNoSegment struct{}

func (errNoSegment) Error() string { return "replay: no segment covers the requested range" }

// run is the playback task; it exits when the session ends
// (completion, malformed frame, stop, or out-of-range timestamp).
//
// readNext/advanceSegment/openSegmentAt mutate dataFile/cursor/segIdx/
// segments/prevTsNs/firstFrame, the same fields Seek mutates from the
// control server's goroutine; every touch of them here happens under
// s.mu, matching Seek's own locking, so a live seek can never race the
// playback loop's reads and writes of that state.
func (s *Session) run(done func()) {
	defer done()
	defer func() {
		s.mu.Lock()
		if s.dataFile != nil {
			s.dataFile.Close()
		}
		s.mu.Unlock()
	}()

	for {
		if s.stopped.Load() {
			return
		}
		for s.paused.Load() {
			time.Sleep(pausePollInterval)
			if s.stopped.Load() {
				return
			}
		}

		s.mu.Lock()
		f, ok, err := s.readNext()
		if err != nil || !ok {
			s.mu.Unlock()
			return
		}
		ts := f.TimestampNs()
		if ts > s.ToTsNs {
			s.mu.Unlock()
			return
		}
		// seekOffset only lands on the sparse index granularity, so the
		// first frames read after open()/Seek() can still be short of
		// FromTsNs; skip those without pacing or publishing them so the
		// session emits exactly ts ∈ [FromTsNs, ToTsNs].
		belowRange := ts < s.FromTsNs
		pace := !s.firstFrame
		delta := ts - s.prevTsNs
		s.firstFrame = false
		s.prevTsNs = ts
		s.mu.Unlock()

		if belowRange {
			continue
		}

		s.watermarkNs.Store(ts)

		if pace {
			s.pace(delta)
		}

		topic := replayTopic(s.ID, f, s.registry)
		if s.matches(topic) {
			s.pub.Publish(topic, f)
		}
	}
}

func (s *Session) pace(deltaNs uint64) {
	cost := costForDelay(deltaNs)
	for !s.bucket.tryConsume(cost) {
		if s.stopped.Load() {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

// replayTopic builds "replay.<id>.<msgtype>.<symbol>", resolving the
// real symbol name via the shared registry. This is the
// REDESIGN-FLAG fix for
// _examples/original_source/src/main_core.cpp's generate_topic /
// _examples/original_source/src/replay/replayer.cpp, which hardcode
// "UNKNOWN" because the original replayer has no registry handle.
func replayTopic(sessionID string, f wire.Frame, reg *symbol.Registry) string {
	name := reg.ByID(f.SymbolID())
	if name == "" {
		name = "UNKNOWN"
	}
	return "replay." + sessionID + "." + wire.MsgTypeName(f.Header.MsgType) + "." + name
}

// Pause/Resume/Stop/Seek/Watermark are the session lifecycle
// surface exposed by Replayer.

func (s *Session) Pause()  { s.paused.Store(true) }
func (s *Session) Resume() { s.paused.Store(false) }

func (s *Session) Stop() {
	s.stopped.Store(true)
	s.wg.Wait()
}

// Seek re-runs the index search for ts and advances the cursor. The
// token bucket is intentionally left untouched, per spec.md §4.7
// ("pacing stays stable").
func (s *Session) Seek(ts uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := findContaining(s.segments, ts)
	if !ok {
		return errNoSegmentCovering
	}
	if err := s.openSegmentAt(idx, ts); err != nil {
		return err
	}
	s.prevTsNs = 0
	s.firstFrame = true
	return nil
}

func (s *Session) Watermark() uint64 { return s.watermarkNs.Load() }

func (s *Session) IsPaused() bool { return s.paused.Load() }
