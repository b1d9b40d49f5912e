package recorder

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/btree"

	"github.com/marketspine/marketspine/internal/metrics"
	"github.com/marketspine/marketspine/internal/wire"
)

const headerRewriteInterval = 1000

// Recorder consumes frames from Input and journals them into rolling
// segment files under Dir. Its current-segment state is owned
// exclusively by its single worker goroutine, per spec.md §5.
type Recorder struct {
	Input <-chan wire.Frame

	dir             string
	rollBytes       int64
	indexInterval   int
	fsyncInterval   time.Duration
	metrics         *metrics.Collector
	logger          *slog.Logger

	// current segment state — touched only by the worker goroutine.
	dataFile      *os.File
	indexFile     *os.File
	dataSize      int64
	frameCount    uint32
	startTsNs     uint64
	endTsNs       uint64
	framesSinceIdx int
	framesSinceHdr int
	symbolsSeen   map[uint32]struct{}
	inMemIndex    *btree.Map[uint64, uint64] // ts_ns -> offset, current segment only

	dirty   atomic.Bool
	running atomic.Bool
	wg      sync.WaitGroup
	stopCh  chan struct{}
}

// New builds a Recorder rooted at dir.
func New(input <-chan wire.Frame, dir string, rollBytes int64, indexInterval int, fsyncMs int, m *metrics.Collector, logger *slog.Logger) *Recorder {
	if indexInterval <= 0 {
		indexInterval = 10000
	}
	if fsyncMs <= 0 {
		fsyncMs = 50
	}
	return &Recorder{
		Input:         input,
		dir:           dir,
		rollBytes:     rollBytes,
		indexInterval: indexInterval,
		fsyncInterval: time.Duration(fsyncMs) * time.Millisecond,
		metrics:       m,
		logger:        logger,
		symbolsSeen:   make(map[uint32]struct{}),
		stopCh:        make(chan struct{}),
	}
}

// Start opens the storage directory and launches the worker
// goroutine. Open failures abort Start, per spec.md §7.
func (r *Recorder) Start(ctx context.Context) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}
	r.running.Store(true)
	r.wg.Add(1)
	go r.worker(ctx)
	r.logger.Info("recorder started", "dir", r.dir)
	return nil
}

// Stop signals the worker to exit, forces a final flush, and closes
// files.
func (r *Recorder) Stop() {
	if !r.running.Load() {
		return
	}
	r.running.Store(false)
	close(r.stopCh)
	r.wg.Wait()
}

// worker is the recorder's single goroutine: it drains Input in
// batches, writes frames to the current segment, and — folded into
// the same loop rather than a second goroutine — checks the fsync
// ticker on every iteration. Segment state (dataFile, indexFile,
// dataSize, ...) is therefore touched exclusively from here, matching
// the Recorder struct's ownership invariant and
// _examples/original_source/src/recorder/recorder.cpp's single
// recording_thread() that checks its own flush condition inline.
func (r *Recorder) worker(ctx context.Context) {
	defer r.wg.Done()
	defer r.closeCurrent()

	ticker := time.NewTicker(r.fsyncInterval)
	defer ticker.Stop()

	const batchSize = 100
	batch := make([]wire.Frame, 0, batchSize)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			if r.dirty.Load() {
				r.flush()
			}
		default:
		}

		batch = batch[:0]
	drain:
		for len(batch) < batchSize {
			select {
			case f, ok := <-r.Input:
				if !ok {
					return
				}
				batch = append(batch, f)
			default:
				break drain
			}
		}
		if len(batch) == 0 {
			time.Sleep(100 * time.Microsecond)
			continue
		}
		for _, f := range batch {
			r.writeFrame(f)
		}
	}
}

func (r *Recorder) writeFrame(f wire.Frame) {
	encoded := wire.Encode(f, nil)
	ts := f.TimestampNs()

	if r.dataFile == nil || r.dataSize+int64(len(encoded)) > r.rollBytes {
		if r.dataFile != nil {
			r.closeCurrent()
		}
		if err := r.openSegment(ts); err != nil {
			r.logger.Error("recorder: failed to open segment", "error", err)
			r.metrics.IncCounter("recorder_write_error_total", 1)
			return
		}
	}

	if r.framesSinceIdx == 0 {
		entry := IndexEntry{FirstTsNs: ts, FileOffset: uint64(r.dataSize)}
		if _, err := r.indexFile.Write(encodeIndexEntry(entry)); err != nil {
			r.logger.Error("recorder: index write failed", "error", err)
			r.metrics.IncCounter("recorder_write_error_total", 1)
		} else {
			r.inMemIndex.Set(entry.FirstTsNs, entry.FileOffset)
		}
	}
	r.framesSinceIdx = (r.framesSinceIdx + 1) % r.indexInterval

	if _, err := r.dataFile.Write(encoded); err != nil {
		r.logger.Error("recorder: data write failed", "error", err)
		r.metrics.IncCounter("recorder_write_error_total", 1)
		r.closeCurrent()
		return
	}

	r.dataSize += int64(len(encoded))
	if r.frameCount == 0 {
		r.startTsNs = ts
	}
	r.frameCount++
	r.endTsNs = ts
	r.symbolsSeen[f.SymbolID()] = struct{}{}
	r.dirty.Store(true)
	r.metrics.IncCounter("recorder_frames_written_total", 1)

	r.framesSinceHdr++
	if r.framesSinceHdr >= headerRewriteInterval {
		r.rewriteHeader()
		r.framesSinceHdr = 0
	}
}

func (r *Recorder) openSegment(firstTsNs uint64) error {
	base := FilenameFor(firstTsNs)
	dataPath := filepath.Join(r.dir, base+".mdf")
	idxPath := filepath.Join(r.dir, base+".idx")

	df, err := os.OpenFile(dataPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	ixf, err := os.OpenFile(idxPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		df.Close()
		os.Remove(dataPath)
		return err
	}

	r.dataFile = df
	r.indexFile = ixf
	r.dataSize = HeaderBytes
	r.frameCount = 0
	r.startTsNs = 0
	r.endTsNs = 0
	r.framesSinceIdx = 0
	r.framesSinceHdr = 0
	r.symbolsSeen = make(map[uint32]struct{})
	r.inMemIndex = &btree.Map[uint64, uint64]{}

	if _, err := df.Write(encodeHeader(SegmentHeader{Magic: SegmentMagic, Version: SegmentVer})); err != nil {
		return err
	}
	r.logger.Info("recorder rolled segment", "file", dataPath)
	return nil
}

func (r *Recorder) rewriteHeader() {
	if r.dataFile == nil {
		return
	}
	hdr := encodeHeader(SegmentHeader{
		Magic:       SegmentMagic,
		Version:     SegmentVer,
		StartTsNs:   r.startTsNs,
		EndTsNs:     r.endTsNs,
		SymbolCount: uint32(len(r.symbolsSeen)),
		FrameCount:  r.frameCount,
	})
	if _, err := r.dataFile.WriteAt(hdr, 0); err != nil {
		r.logger.Error("recorder: header rewrite failed", "error", err)
	}
}

func (r *Recorder) closeCurrent() {
	if r.dataFile == nil {
		return
	}
	r.rewriteHeader()
	r.flush()
	r.dataFile.Close()
	r.indexFile.Close()
	r.dataFile = nil
	r.indexFile = nil
}

func (r *Recorder) flush() {
	if r.dataFile != nil {
		r.dataFile.Sync()
	}
	if r.indexFile != nil {
		r.indexFile.Sync()
	}
	r.dirty.Store(false)
}

// CurrentSegmentIndexLen reports how many index entries have been
// buffered for the currently-open segment, read from the same
// btree.Map the recorder appends to on each index boundary. Exposed
// for the control glue's /health diagnostics.
func (r *Recorder) CurrentSegmentIndexLen() int {
	if r.inMemIndex == nil {
		return 0
	}
	return r.inMemIndex.Len()
}

