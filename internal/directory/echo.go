package directory

import (
	"strconv"
	"sync"
	"time"
)

// echoMarker remembers a mutation this engine issued so that the matching
// push can be recognised and skipped. sn is chosen before the request is
// sent; replySN is set when the server answered under a different one.
type echoMarker struct {
	key      string
	sn       string
	replySN  string
	expires  time.Time
	consumed bool
}

func (m *echoMarker) hasSN(sn string) bool {
	return m.sn == sn || (m.replySN != "" && m.replySN == sn)
}

type echoLog struct {
	mu      sync.Mutex
	ttl     time.Duration
	markers []*echoMarker
}

func newEchoLog(ttl time.Duration) *echoLog {
	return &echoLog{ttl: ttl}
}

func echoKey(action string, id int64) string {
	return action + ":" + strconv.FormatInt(id, 10)
}

// expect registers an in-flight mutation sent under sn.
func (l *echoLog) expect(key, sn string, now time.Time) *echoMarker {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(now)

	m := &echoMarker{key: key, sn: sn, expires: now.Add(l.ttl)}
	l.markers = append(l.markers, m)
	return m
}

// confirm records the final key and the reply sn once the mutation
// succeeded. A marker a push already consumed stays consumed.
func (l *echoLog) confirm(m *echoMarker, key, replySN string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m.consumed {
		return
	}
	m.key = key
	if replySN != m.sn {
		m.replySN = replySN
	}
	m.expires = now.Add(l.ttl)
}

// cancel drops a marker whose request failed.
func (l *echoLog) cancel(m *echoMarker) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removeLocked(m)
}

// consume reports whether a push echoes one of our own mutations, and
// forgets that mutation if so. A push carrying an sn matches on the sn
// alone, so another client's change to the same entity is never taken for
// ours. Only a push without an sn falls back to the content key.
func (l *echoLog) consume(sn, key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(now)

	for _, m := range l.markers {
		if (sn != "" && m.hasSN(sn)) || (sn == "" && m.key == key) {
			l.removeLocked(m)
			return true
		}
	}
	return false
}

func (l *echoLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.markers)
}

func (l *echoLog) removeLocked(m *echoMarker) {
	m.consumed = true
	for i, v := range l.markers {
		if v == m {
			l.markers = append(l.markers[:i], l.markers[i+1:]...)
			return
		}
	}
}

func (l *echoLog) pruneLocked(now time.Time) {
	kept := l.markers[:0]
	for _, m := range l.markers {
		if now.Before(m.expires) {
			kept = append(kept, m)
		} else {
			m.consumed = true
		}
	}
	clear(l.markers[len(kept):])
	l.markers = kept
}
