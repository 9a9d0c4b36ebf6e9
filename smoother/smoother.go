/*
NAME
  smoother.go

DESCRIPTION
  smoother.go paces a bursty sequence of TS packets into an output sequence
  scheduled against the PCR timeline of a caller-nominated PID, so that
  scheduled output timestamps track encoder wall time with bounded latency.

AUTHOR
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package smoother implements a PCR-paced output scheduler (§4.4): a
// single-writer/single-scheduler-thread pipeline that converts bursty TS
// input into a monotonically scheduled output sequence.
package smoother

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ausocean/utils/realtime"

	"github.com/ausocean/tstools/ts"
)

// ItemBytes is the fixed capacity every freelist item is initially sized
// to: 7 packets, the maximum chunk size the spec allows per PCR interval.
const ItemBytes = 7 * ts.PacketSize

// maxPacketsPerChunk bounds how many packets share one interpolated PCR
// value between two observed PCRs on the target PID.
const maxPacketsPerChunk = 7

// pcrResetThreshold is how large a PCR jump (forwards or backwards) must
// be before the anchor is considered invalid and rebuilt.
const pcrResetThreshold = 15 * 27_000_000 // 15s at 27MHz

// anchorRefreshInterval is how often the anchor is refreshed even absent a
// detected jump, to bound slow long-term drift (§4.4 PCR reset handling;
// the original's comment claims 60s but its code checks against 10s, and
// spec.md itself states 10s, so the code/spec are followed here).
const anchorRefreshInterval = 10 * time.Second

// freelistGrowth is how many items the freelist grows by when exhausted.
const freelistGrowth = 64

// schedulerTick is how often the scheduler wakes to check for due items
// absent an explicit signal.
const schedulerTick = 50 * time.Microsecond

// Item is one scheduled unit of output: up to maxPacketsPerChunk packets
// sharing a single interpolated base PCR.
type Item struct {
	Sequence    uint64
	ScheduledUS int64 // walltime in microseconds since the Unix epoch
	PCR         uint64
	Payload     []byte // owned by the scheduler until the callback returns
}

// Callback is invoked once per scheduled item, on the scheduler's thread.
// The callee must not retain Payload past the call.
type Callback func(item Item)

// Config configures a Smoother (§6 External interfaces).
type Config struct {
	PCRPID    uint16
	LatencyMS int // end-to-end buffering budget; must be >= 50
	Blocking  bool
	Metrics   prometheus.Registerer // optional; nil disables metrics
}

// Errors returned constructing or operating a Smoother.
var (
	ErrInvalidPID     = errors.New("smoother: pcr_pid out of range")
	ErrInvalidLatency = errors.New("smoother: latency_ms must be >= 50")
)

// Smoother paces TS packets against pcr_pid's PCR timeline.
type Smoother struct {
	cfg Config
	cb  Callback

	mu       sync.Mutex
	cond     *sync.Cond
	busy     []*Item
	free     []*Item
	nextSeq  uint64
	freeMade int // total items ever allocated

	lastPerPacketTicks uint64
	havePrevPCR        bool
	prevPCR            uint64
	prevPCROffset      int64 // absolute stream-byte offset, stable across Write() calls

	// streamOffset is the absolute stream-byte offset corresponding to
	// s.pending[0]: it only ever grows, by exactly how much of s.pending
	// gets trimmed off at the end of scanAndChunk, so prevPCROffset stays
	// comparable to offsets computed in a later Write() call even though
	// s.pending's own local indexing resets every call.
	streamOffset int64

	// scanOffset is the absolute offset up to which s.pending has already
	// been scanned for PCRs, so a later Write() resumes scanning after the
	// bytes a prior call already looked at, even when those bytes are
	// still sitting in s.pending (kept because the chunk spanning them
	// hasn't been enqueued yet).
	scanOffset int64

	anchorSet      bool
	anchorWallUS   int64
	anchorPCR      uint64
	lastAnchorTime time.Time

	latencyHWMMS   int64
	bytesQueued    uint64
	freelistGrowth int

	pending []byte // unbounded staging buffer for bytes not yet chunked

	terminate  chan struct{}
	terminated chan struct{}

	now func() time.Time

	metrics *metricsSet
}

// New constructs a Smoother delivering scheduled items to cb and starts
// its scheduler goroutine. Callers must call Close to stop it.
func New(cfg Config, cb Callback) (*Smoother, error) {
	if cfg.PCRPID < 0x0010 || cfg.PCRPID > 0x1FFE {
		return nil, ErrInvalidPID
	}
	if cfg.LatencyMS < 50 {
		return nil, ErrInvalidLatency
	}
	s := &Smoother{
		cfg:        cfg,
		cb:         cb,
		terminate:  make(chan struct{}),
		terminated: make(chan struct{}),
		now:        time.Now,
	}
	s.cond = sync.NewCond(&s.mu)
	if cfg.Metrics != nil {
		s.metrics = newMetricsSet(cfg.Metrics)
	}
	go s.run()
	return s, nil
}

// Close signals the scheduler to stop and waits for it to exit, per §5
// Cancellation & shutdown: items still queued are not delivered, and no
// callback fires after Close returns.
func (s *Smoother) Close() {
	close(s.terminate)
	s.cond.Broadcast()
	<-s.terminated
}

// Stats is a read-only snapshot of the smoother's statistics (§4.4).
type Stats struct {
	LatencyMS        int64
	LatencyHWMMS     int64
	BytesQueued      uint64
	ItemsAllocated   int
	FreelistGrowth   int
}

// Stats returns the smoother's current statistics, read under the queue
// mutex.
func (s *Smoother) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latency int64
	if len(s.busy) > 0 {
		latency = (s.busy[len(s.busy)-1].ScheduledUS - s.busy[0].ScheduledUS) / 1000
	}
	return Stats{
		LatencyMS:      latency,
		LatencyHWMMS:   s.latencyHWMMS,
		BytesQueued:    s.bytesQueued,
		ItemsAllocated: s.freeMade,
		FreelistGrowth: s.freelistGrowth,
	}
}

// Write appends raw TS packets (any multiple of ts.PacketSize, pre-aligned)
// to the smoother's input stage.
func (s *Smoother) Write(buf []byte) error {
	s.mu.Lock()
	s.pending = append(s.pending, buf...)
	s.mu.Unlock()
	s.scanAndChunk()
	return nil
}

// scanAndChunk looks for consecutive PCRs on the target PID within the
// pending buffer and enqueues chunks of up to maxPacketsPerChunk packets
// between each pair found. It resumes scanning from scanOffset rather than
// the start of pending, since a chunk between two PCRs observed on
// separate Write() calls needs the bytes in between to still be in pending
// when the second PCR arrives, and re-scanning them would re-trigger their
// (already-handled) PCR.
func (s *Smoother) scanAndChunk() {
	s.mu.Lock()
	defer s.mu.Unlock()

	off := int(s.scanOffset - s.streamOffset)
	if off < 0 {
		off = 0
	}
	for off+ts.PacketSize <= len(s.pending) {
		raw := s.pending[off : off+ts.PacketSize]
		if raw[0] != ts.SyncByte {
			off++
			continue
		}
		var pkt ts.Packet
		if err := pkt.Parse(raw); err != nil {
			off++
			continue
		}
		if pkt.PID == s.cfg.PCRPID && pkt.HasPCR {
			s.onPCR(pkt.PCR, s.streamOffset+int64(off))
		}
		off += ts.PacketSize
	}
	scanned := off - (off % ts.PacketSize)
	s.scanOffset = s.streamOffset + int64(scanned)

	// Never trim past the last-seen PCR's byte offset: those bytes may
	// still be needed to slice out a chunk once the next correlated PCR
	// is found in a later Write() call.
	consumed := scanned
	if s.havePrevPCR {
		if keepFrom := int(s.prevPCROffset - s.streamOffset); keepFrom < consumed {
			consumed = keepFrom
		}
	}
	if consumed > 0 {
		s.pending = append([]byte(nil), s.pending[consumed:]...)
		s.streamOffset += int64(consumed)
	}
}

// onPCR is called holding s.mu with the absolute stream-byte offset (stable
// across Write() calls; see streamOffset) of a newly observed PCR.
func (s *Smoother) onPCR(pcr uint64, offset int64) {
	now := s.wallUS()

	if !s.anchorSet {
		s.setAnchor(pcr, now)
	} else if ts.PCRDiff(s.anchorPCR, pcr) > pcrResetThreshold && ts.PCRDiff(pcr, s.anchorPCR) > pcrResetThreshold {
		s.setAnchor(pcr, now)
	} else if s.realNow().Sub(s.lastAnchorTime) >= anchorRefreshInterval {
		s.setAnchor(pcr, now)
	}

	if !s.havePrevPCR {
		s.havePrevPCR = true
		s.prevPCR = pcr
		s.prevPCROffset = offset
		return
	}

	intervalTicks := ts.PCRDiff(s.prevPCR, pcr)
	packets := (offset - s.prevPCROffset) / ts.PacketSize
	if packets <= 0 {
		s.prevPCR = pcr
		s.prevPCROffset = offset
		return
	}
	perPacketTicks := intervalTicks / uint64(packets)
	s.lastPerPacketTicks = perPacketTicks

	for consumed := int64(0); consumed < packets; consumed += maxPacketsPerChunk {
		n := packets - consumed
		if n > maxPacketsPerChunk {
			n = maxPacketsPerChunk
		}
		chunkPCR := s.prevPCR + perPacketTicks*uint64(consumed)
		start := s.prevPCROffset + consumed*ts.PacketSize - s.streamOffset
		end := start + n*ts.PacketSize
		var payload []byte
		if start >= 0 && end <= int64(len(s.pending)) {
			payload = s.pending[start:end]
		}
		s.enqueue(chunkPCR, perPacketTicks*uint64(n), payload)
	}

	s.prevPCR = pcr
	s.prevPCROffset = offset
}

func (s *Smoother) setAnchor(pcr uint64, wallUS int64) {
	s.anchorSet = true
	s.anchorPCR = pcr
	s.anchorWallUS = wallUS
	s.lastAnchorTime = s.realNow()
}

// scheduledUS computes the scheduled wallclock, in microseconds, for PCR p.
func (s *Smoother) scheduledUS(p uint64) int64 {
	return s.anchorWallUS + int64(ts.PCRDiff(s.anchorPCR, p)/27) + int64(s.cfg.LatencyMS)*1000
}

// enqueue appends one scheduled item of the given PCR and packet-span
// ticks, enforcing strict monotonicity of scheduled times.
func (s *Smoother) enqueue(pcr uint64, spanTicks uint64, payload []byte) {
	item := s.alloc()
	item.Sequence = s.nextSeq
	s.nextSeq++
	item.PCR = pcr
	item.Payload = append(item.Payload[:0], payload...)

	scheduled := s.scheduledUS(pcr)
	if len(s.busy) > 0 && s.busy[len(s.busy)-1].ScheduledUS >= scheduled {
		scheduled = s.busy[len(s.busy)-1].ScheduledUS + int64(spanTicks/27)
	}
	item.ScheduledUS = scheduled

	s.busy = append(s.busy, item)
	s.bytesQueued += uint64(len(item.Payload))
	if s.metrics != nil {
		s.metrics.queueDepth.Set(float64(len(s.busy)))
	}
	s.cond.Broadcast()
}

// alloc returns a free item, blocking (in blocking mode) or growing the
// freelist on demand (non-blocking mode) when exhausted.
func (s *Smoother) alloc() *Item {
	for len(s.free) == 0 {
		// Blocking mode still needs one initial batch to have anything to
		// wait for; after that it waits for released items instead of growing.
		if !s.cfg.Blocking || s.freeMade == 0 {
			s.grow()
			break
		}
		s.cond.Wait()
	}
	item := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]
	return item
}

func (s *Smoother) grow() {
	for i := 0; i < freelistGrowth; i++ {
		s.free = append(s.free, &Item{Payload: make([]byte, 0, ItemBytes)})
	}
	s.freeMade += freelistGrowth
	s.freelistGrowth++
	if s.metrics != nil {
		s.metrics.freelistGrowth.Inc()
	}
}

func (s *Smoother) release(item *Item) {
	s.mu.Lock()
	item.Payload = item.Payload[:0]
	s.free = append(s.free, item)
	s.cond.Broadcast()
	s.mu.Unlock()
}

// run is the scheduler goroutine: pops due items under the mutex, then
// invokes cb outside it, per §5's "release lock before callback".
func (s *Smoother) run() {
	defer close(s.terminated)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-s.terminate
		cancel()
	}()
	defer cancel()

	ticker := time.NewTicker(schedulerTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.dispatchDue()
	}
}

func (s *Smoother) dispatchDue() {
	now := s.wallUS()
	var due []*Item
	s.mu.Lock()
	for len(s.busy) > 0 && s.busy[0].ScheduledUS <= now {
		due = append(due, s.busy[0])
		s.busy = s.busy[1:]
	}
	if len(due) > 0 {
		latency := (now - due[len(due)-1].ScheduledUS) / 1000
		if latency > s.latencyHWMMS {
			s.latencyHWMMS = latency
		}
	}
	s.mu.Unlock()

	for _, item := range due {
		s.cb(*item)
		s.release(item)
	}
}

func (s *Smoother) wallUS() int64 { return s.realNow().UnixMicro() }

var rt = realtime.NewRealTime()

func (s *Smoother) realNow() time.Time {
	if rt.IsSet() {
		return rt.Get()
	}
	return s.now()
}
