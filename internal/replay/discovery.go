package replay

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/dgraph-io/badger/v3"

	"github.com/marketspine/marketspine/internal/recorder"
)

// segmentInfo is what discovery needs about one .mdf/.idx pair: its
// path and the timestamp range covered by its header.
type segmentInfo struct {
	DataPath  string
	IndexPath string
	StartTsNs uint64
	EndTsNs   uint64
}

// discovery locates segments and caches their header ranges in
// badger so repeated Start()/seek() calls don't re-read every
// header on disk each time — grounded on SPEC_FULL.md §3's badger
// wiring, itself grounded on
// _examples/Aidin1998-finalex/internal/trading/orderqueue/badger_queue.go's
// KV usage. The cache is a pure accelerator: on any miss or open
// failure discovery falls back to reading the header from disk.
type discovery struct {
	dir string
	db  *badger.DB
}

func newDiscovery(dir string, cacheDir string) *discovery {
	d := &discovery{dir: dir}
	if cacheDir == "" {
		return d
	}
	opts := badger.DefaultOptions(cacheDir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err == nil {
		d.db = db
	}
	return d
}

func (d *discovery) close() {
	if d.db != nil {
		_ = d.db.Close()
	}
}

// list returns every segment in the directory, sorted by start
// timestamp (filenames sort the same way since they're derived from
// it).
func (d *discovery) list() ([]segmentInfo, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, err
	}
	var out []segmentInfo
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".mdf" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dataPath := filepath.Join(d.dir, e.Name())
		start, end, err := d.headerRange(dataPath, info.ModTime().UnixNano(), info.Size())
		if err != nil {
			continue // skip unreadable/corrupt segments rather than fail discovery outright
		}
		base := e.Name()[:len(e.Name())-len(filepath.Ext(e.Name()))]
		out = append(out, segmentInfo{
			DataPath:  dataPath,
			IndexPath: filepath.Join(d.dir, base+".idx"),
			StartTsNs: start,
			EndTsNs:   end,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTsNs < out[j].StartTsNs })
	return out, nil
}

func (d *discovery) headerRange(dataPath string, mtimeNs int64, size int64) (uint64, uint64, error) {
	cacheKey := []byte(dataPath + "|" + strconv.FormatInt(mtimeNs, 10) + "|" + strconv.FormatInt(size, 10))
	if d.db != nil {
		var start, end uint64
		err := d.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get(cacheKey)
			if err != nil {
				return err
			}
			return item.Value(func(val []byte) error {
				if len(val) != 16 {
					return errors.New("replay: malformed cache entry")
				}
				start = beUint64(val[0:8])
				end = beUint64(val[8:16])
				return nil
			})
		})
		if err == nil {
			return start, end, nil
		}
	}

	f, err := os.Open(dataPath)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	buf := make([]byte, recorder.HeaderBytes)
	if _, err := f.Read(buf); err != nil {
		return 0, 0, err
	}
	hdr, err := recorder.DecodeHeader(buf)
	if err != nil {
		return 0, 0, err
	}

	if d.db != nil {
		val := make([]byte, 16)
		putBEUint64(val[0:8], hdr.StartTsNs)
		putBEUint64(val[8:16], hdr.EndTsNs)
		_ = d.db.Update(func(txn *badger.Txn) error {
			return txn.Set(cacheKey, val)
		})
	}
	return hdr.StartTsNs, hdr.EndTsNs, nil
}

// findContaining locates the segment whose [start,end] range
// contains ts by true timestamp-range containment — the
// REDESIGN-FLAG fix for
// _examples/original_source/src/replay/replayer.cpp's
// find_files_for_timestamp, which just returns the first .mdf file
// found regardless of its range.
func findContaining(segments []segmentInfo, ts uint64) (int, bool) {
	for i, s := range segments {
		if ts >= s.StartTsNs && ts <= s.EndTsNs {
			return i, true
		}
	}
	return 0, false
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func putBEUint64(dst []byte, v uint64) {
	for i := len(dst) - 1; i >= 0; i-- {
		dst[i] = byte(v)
		v >>= 8
	}
}
