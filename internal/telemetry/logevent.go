package telemetry

import (
	"regexp"
	"strconv"
)

// EventKind is the closed enumeration from spec §3, extended with the
// legacy aliases the original parser recognized for older CRIU builds
// (see SPEC_FULL.md "Supplemented features").
type EventKind string

const (
	EventDumpStart    EventKind = "dump_start"
	EventDumpPages    EventKind = "dump_pages"
	EventDumpEnd      EventKind = "dump_end"
	EventRestoreStart EventKind = "restore_start"
	EventRestorePages EventKind = "restore_pages"
	EventRestoreEnd   EventKind = "restore_end"
	EventLazyFault    EventKind = "lazy_fault"

	EventObjstorFetchStart EventKind = "objstor_fetch_start"
	EventObjstorFetchDone  EventKind = "objstor_fetch_done"
	EventObjstorFetchError EventKind = "objstor_fetch_error"

	EventPrefetchQueue            EventKind = "prefetch_queue"
	EventPrefetchDequeue          EventKind = "prefetch_dequeue"
	EventPrefetchWorkerStart      EventKind = "prefetch_worker_start"
	EventPrefetchWorkerDone       EventKind = "prefetch_worker_done"
	EventPrefetchWorkerError      EventKind = "prefetch_worker_error"
	EventPrefetchCacheHit         EventKind = "prefetch_cache_hit"
	EventPrefetchCacheMiss        EventKind = "prefetch_cache_miss"
	EventPrefetchCacheStore       EventKind = "prefetch_cache_store"
	EventPrefetchControllerFault  EventKind = "prefetch_controller_fault"
	EventPrefetchControllerPromote EventKind = "prefetch_controller_promote"
	EventPrefetchControllerRemove  EventKind = "prefetch_controller_remove"
	EventPrefetchStats            EventKind = "prefetch_stats"

	EventInfo  EventKind = "info"
	EventError EventKind = "error"

	// Legacy aliases, recognized but non-canonical.
	EventObjstorFetchLegacy  EventKind = "objstor_fetch"
	EventPrefetchHitLegacy   EventKind = "prefetch_hit"
	EventPrefetchMissLegacy  EventKind = "prefetch_miss"
	EventPrefetchDoneLegacy  EventKind = "prefetch_complete"
)

// LogEvent is spec §3's LogEvent record.
type LogEvent struct {
	TimestampSec float64
	PID          int
	EventKind    EventKind
	Message      string
	Details      map[string]interface{}
}

var (
	logLinePattern = regexp.MustCompile(`^\(\s*([0-9]+\.[0-9]+)\)\s+([0-9]+)\s+(.*)$`)

	objstorFetchStart = regexp.MustCompile(`objstor:\s*FETCH_START\s+key=(\S+)\s+offset=(\d+)\s+len=(\d+)`)
	objstorFetchDone  = regexp.MustCompile(`objstor:\s*FETCH_DONE\s+key=(\S+)\s+offset=(\d+)\s+len=(\d+)\s+dur_ms=([0-9]+\.?[0-9]*)`)
	objstorFetchError = regexp.MustCompile(`objstor:\s*FETCH_ERROR\s+key=(\S+)\s+offset=(\d+)\s+len=(\d+)\s+error=(-?\d+)`)
	objstorFetchLegacy = regexp.MustCompile(`objstor:\s*FETCH\s+key=(\S+)\s+offset=(\d+)\s+len=(\d+)`)

	prefetchQueue       = regexp.MustCompile(`prefetch:\s*QUEUE\s+iov_idx=(\d+)\s+iov_start=0x([0-9a-fA-F]+)\s+iov_end=0x([0-9a-fA-F]+)\s+priority=(\d+)`)
	prefetchDequeue     = regexp.MustCompile(`prefetch:\s*DEQUEUE\s+iov_idx=(\d+)\s+worker=(\d+)`)
	prefetchWorkerStart = regexp.MustCompile(`prefetch:\s*WORKER_START\s+worker=(\d+)\s+iov_idx=(\d+)`)
	prefetchWorkerDone  = regexp.MustCompile(`prefetch:\s*WORKER_DONE\s+worker=(\d+)\s+iov_idx=(\d+)\s+dur_ms=([0-9]+\.?[0-9]*)`)
	prefetchWorkerError = regexp.MustCompile(`prefetch:\s*WORKER_ERROR\s+worker=(\d+)\s+iov_idx=(\d+)\s+error=(-?\d+)`)
	prefetchCacheHit    = regexp.MustCompile(`prefetch:\s*CACHE_HIT\s+iov_idx=(\d+)`)
	prefetchCacheMiss   = regexp.MustCompile(`prefetch:\s*CACHE_MISS\s+iov_idx=(\d+)`)
	prefetchCacheStore  = regexp.MustCompile(`prefetch:\s*CACHE_STORE\s+iov_idx=(\d+)\s+size=(\d+)`)
	prefetchCtrlFault   = regexp.MustCompile(`prefetch:\s*CONTROLLER_FAULT\s+iov_idx=(\d+)\s+pattern=(\d+)\s+confidence=([0-9]+\.?[0-9]*)`)
	prefetchCtrlPromote = regexp.MustCompile(`prefetch:\s*CONTROLLER_PROMOTE\s+iov_idx=(\d+)\s+old_prio=(\d+)\s+new_prio=(\d+)`)
	prefetchCtrlRemove  = regexp.MustCompile(`prefetch:\s*CONTROLLER_REMOVE\s+iov_idx=(\d+)\s+reason=(\S+)`)
	prefetchStats       = regexp.MustCompile(`prefetch:\s*STATS\s+requests=(\d+)\s+completed=(\d+)\s+failed=(\d+)\s+hits=(\d+)\s+misses=(\d+)`)
	prefetchHitLegacy   = regexp.MustCompile(`prefetch:\s*(?:PREFETCH:)?\s*HIT\b`)
	prefetchMissLegacy  = regexp.MustCompile(`prefetch:\s*(?:PREFETCH:)?\s*MISS\b`)

	lazyFaultPattern = regexp.MustCompile(`(?i)(?:uffd|page[-_ ]?fault)`)
	addrPattern      = regexp.MustCompile(`0x([0-9a-fA-F]+)`)

	dumpStartPattern    = regexp.MustCompile(`(?i)dump(ing)?\s+start`)
	dumpEndPattern      = regexp.MustCompile(`(?i)dump(ing)?\s+(finished|end|complete)`)
	restoreStartPattern = regexp.MustCompile(`(?i)restor(e|ing)\s+start`)
	restoreEndPattern   = regexp.MustCompile(`(?i)restor(e|ing)\s+(finished|end|complete)`)
	errorPattern        = regexp.MustCompile(`(?i)\berror\b`)
)

// ParseLine parses one CRIU log line. It returns (LogEvent{}, false)
// for blank lines or lines that don't match the CRIU log grammar
// `(seconds) pid message`.
func ParseLine(line string) (LogEvent, bool) {
	m := logLinePattern.FindStringSubmatch(line)
	if m == nil {
		return LogEvent{}, false
	}

	ts, _ := strconv.ParseFloat(m[1], 64)
	pid, _ := strconv.Atoi(m[2])
	message := m[3]

	ev := LogEvent{
		TimestampSec: ts,
		PID:          pid,
		Message:      message,
		EventKind:    EventInfo,
		Details:      map[string]interface{}{},
	}

	classify(&ev)

	return ev, true
}

func classify(ev *LogEvent) {
	msg := ev.Message

	switch {
	case objstorFetchDone.MatchString(msg):
		m := objstorFetchDone.FindStringSubmatch(msg)
		ev.EventKind = EventObjstorFetchDone
		offset, _ := strconv.Atoi(m[2])
		length, _ := strconv.Atoi(m[3])
		dur, _ := strconv.ParseFloat(m[4], 64)
		ev.Details = map[string]interface{}{"key": m[1], "offset": offset, "length": length, "duration_ms": dur}
	case objstorFetchStart.MatchString(msg):
		m := objstorFetchStart.FindStringSubmatch(msg)
		ev.EventKind = EventObjstorFetchStart
		offset, _ := strconv.Atoi(m[2])
		length, _ := strconv.Atoi(m[3])
		ev.Details = map[string]interface{}{"key": m[1], "offset": offset, "length": length}
	case objstorFetchError.MatchString(msg):
		m := objstorFetchError.FindStringSubmatch(msg)
		ev.EventKind = EventObjstorFetchError
		offset, _ := strconv.Atoi(m[2])
		length, _ := strconv.Atoi(m[3])
		code, _ := strconv.Atoi(m[4])
		ev.Details = map[string]interface{}{"key": m[1], "offset": offset, "length": length, "error": code}
	case objstorFetchLegacy.MatchString(msg):
		m := objstorFetchLegacy.FindStringSubmatch(msg)
		ev.EventKind = EventObjstorFetchLegacy
		offset, _ := strconv.Atoi(m[2])
		length, _ := strconv.Atoi(m[3])
		ev.Details = map[string]interface{}{"key": m[1], "offset": offset, "length": length}

	case prefetchQueue.MatchString(msg):
		m := prefetchQueue.FindStringSubmatch(msg)
		ev.EventKind = EventPrefetchQueue
		idx, _ := strconv.Atoi(m[1])
		priority, _ := strconv.Atoi(m[4])
		ev.Details = map[string]interface{}{"iov_idx": idx, "iov_start": m[2], "iov_end": m[3], "priority": priority}
	case prefetchDequeue.MatchString(msg):
		m := prefetchDequeue.FindStringSubmatch(msg)
		ev.EventKind = EventPrefetchDequeue
		idx, _ := strconv.Atoi(m[1])
		worker, _ := strconv.Atoi(m[2])
		ev.Details = map[string]interface{}{"iov_idx": idx, "worker": worker}
	case prefetchWorkerDone.MatchString(msg):
		m := prefetchWorkerDone.FindStringSubmatch(msg)
		ev.EventKind = EventPrefetchWorkerDone
		worker, _ := strconv.Atoi(m[1])
		idx, _ := strconv.Atoi(m[2])
		dur, _ := strconv.ParseFloat(m[3], 64)
		ev.Details = map[string]interface{}{"worker": worker, "iov_idx": idx, "duration_ms": dur}
	case prefetchWorkerStart.MatchString(msg):
		m := prefetchWorkerStart.FindStringSubmatch(msg)
		ev.EventKind = EventPrefetchWorkerStart
		worker, _ := strconv.Atoi(m[1])
		idx, _ := strconv.Atoi(m[2])
		ev.Details = map[string]interface{}{"worker": worker, "iov_idx": idx}
	case prefetchWorkerError.MatchString(msg):
		m := prefetchWorkerError.FindStringSubmatch(msg)
		ev.EventKind = EventPrefetchWorkerError
		worker, _ := strconv.Atoi(m[1])
		idx, _ := strconv.Atoi(m[2])
		code, _ := strconv.Atoi(m[3])
		ev.Details = map[string]interface{}{"worker": worker, "iov_idx": idx, "error": code}
	case prefetchCacheStore.MatchString(msg):
		m := prefetchCacheStore.FindStringSubmatch(msg)
		ev.EventKind = EventPrefetchCacheStore
		idx, _ := strconv.Atoi(m[1])
		size, _ := strconv.Atoi(m[2])
		ev.Details = map[string]interface{}{"iov_idx": idx, "size": size}
	case prefetchCacheHit.MatchString(msg):
		m := prefetchCacheHit.FindStringSubmatch(msg)
		ev.EventKind = EventPrefetchCacheHit
		idx, _ := strconv.Atoi(m[1])
		ev.Details = map[string]interface{}{"iov_idx": idx}
	case prefetchCacheMiss.MatchString(msg):
		m := prefetchCacheMiss.FindStringSubmatch(msg)
		ev.EventKind = EventPrefetchCacheMiss
		idx, _ := strconv.Atoi(m[1])
		ev.Details = map[string]interface{}{"iov_idx": idx}
	case prefetchCtrlFault.MatchString(msg):
		m := prefetchCtrlFault.FindStringSubmatch(msg)
		ev.EventKind = EventPrefetchControllerFault
		idx, _ := strconv.Atoi(m[1])
		pattern, _ := strconv.Atoi(m[2])
		conf, _ := strconv.ParseFloat(m[3], 64)
		ev.Details = map[string]interface{}{"iov_idx": idx, "pattern": pattern, "confidence": conf}
	case prefetchCtrlPromote.MatchString(msg):
		m := prefetchCtrlPromote.FindStringSubmatch(msg)
		ev.EventKind = EventPrefetchControllerPromote
		idx, _ := strconv.Atoi(m[1])
		oldPrio, _ := strconv.Atoi(m[2])
		newPrio, _ := strconv.Atoi(m[3])
		ev.Details = map[string]interface{}{"iov_idx": idx, "old_priority": oldPrio, "new_priority": newPrio}
	case prefetchCtrlRemove.MatchString(msg):
		m := prefetchCtrlRemove.FindStringSubmatch(msg)
		ev.EventKind = EventPrefetchControllerRemove
		idx, _ := strconv.Atoi(m[1])
		ev.Details = map[string]interface{}{"iov_idx": idx, "reason": m[2]}
	case prefetchStats.MatchString(msg):
		m := prefetchStats.FindStringSubmatch(msg)
		ev.EventKind = EventPrefetchStats
		requests, _ := strconv.Atoi(m[1])
		completed, _ := strconv.Atoi(m[2])
		failed, _ := strconv.Atoi(m[3])
		hits, _ := strconv.Atoi(m[4])
		misses, _ := strconv.Atoi(m[5])
		ev.Details = map[string]interface{}{"requests": requests, "completed": completed, "failed": failed, "hits": hits, "misses": misses}
	case prefetchHitLegacy.MatchString(msg):
		ev.EventKind = EventPrefetchHitLegacy
	case prefetchMissLegacy.MatchString(msg):
		ev.EventKind = EventPrefetchMissLegacy

	case lazyFaultPattern.MatchString(msg):
		ev.EventKind = EventLazyFault
		if m := addrPattern.FindStringSubmatch(msg); m != nil {
			ev.Details["address"] = m[1]
		}

	case restoreStartPattern.MatchString(msg):
		ev.EventKind = EventRestoreStart
	case restoreEndPattern.MatchString(msg):
		ev.EventKind = EventRestoreEnd
	case dumpStartPattern.MatchString(msg):
		ev.EventKind = EventDumpStart
	case dumpEndPattern.MatchString(msg):
		ev.EventKind = EventDumpEnd
	case errorPattern.MatchString(msg):
		ev.EventKind = EventError
	}
}

// ParseLog parses every line of content, skipping unparseable lines.
func ParseLog(content string) []LogEvent {
	var events []LogEvent

	start := 0
	for i := 0; i <= len(content); i++ {
		if i == len(content) || content[i] == '\n' {
			line := content[start:i]
			if ev, ok := ParseLine(line); ok {
				events = append(events, ev)
			}
			start = i + 1
		}
	}

	return events
}
