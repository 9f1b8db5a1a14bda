package network

import (
	"time"
)

const (
	minRTO = 30 * time.Millisecond
	maxRTO = time.Second

	// maxHeld bounds how far ahead of the next expected sequence a receiver
	// buffers out-of-order messages. Anything further is not acknowledged and
	// will be retransmitted.
	maxHeld = 1024
)

type pendingSend struct {
	seq      uint32
	data     []byte
	lastSent time.Time
	sentAt   time.Time
	retries  int
}

// reliableLane is one direction pair of an OrderedReliable channel with one peer.
type reliableLane struct {
	nextSeq uint32
	unacked []*pendingSend

	nextRecv uint32
	held     map[uint32][]byte
}

func newReliableLane() *reliableLane {
	return &reliableLane{held: make(map[uint32][]byte)}
}

// track records an outgoing packet until it is acknowledged.
func (l *reliableLane) track(seq uint32, data []byte, now time.Time) {
	l.unacked = append(l.unacked, &pendingSend{seq: seq, data: data, lastSent: now, sentAt: now})
}

// ack removes seq from the unacked set. It returns the round trip sample if
// the packet was acknowledged on its first transmission.
func (l *reliableLane) ack(seq uint32, now time.Time) (time.Duration, bool) {
	for i, p := range l.unacked {
		if p.seq != seq {
			continue
		}
		l.unacked = append(l.unacked[:i], l.unacked[i+1:]...)
		if p.retries > 0 {
			return 0, false
		}
		return now.Sub(p.sentAt), true
	}
	return 0, false
}

// accept reports whether seq should be acknowledged, and returns the
// payloads that became deliverable in order.
func (l *reliableLane) accept(seq uint32, payload []byte) (bool, [][]byte) {
	if seq < l.nextRecv {
		return true, nil // duplicate of something delivered; ack again
	}
	if seq-l.nextRecv >= maxHeld {
		return false, nil
	}
	if _, dup := l.held[seq]; dup {
		return true, nil
	}
	l.held[seq] = payload

	var ready [][]byte
	for {
		p, ok := l.held[l.nextRecv]
		if !ok {
			break
		}
		delete(l.held, l.nextRecv)
		ready = append(ready, p)
		l.nextRecv++
	}
	return true, ready
}

// due returns the packets whose retransmit timer expired, with exponential backoff.
func (l *reliableLane) due(now time.Time, rto time.Duration) []*pendingSend {
	var out []*pendingSend
	for _, p := range l.unacked {
		wait := rto << min(p.retries, 5)
		if wait > maxRTO {
			wait = maxRTO
		}
		if now.Sub(p.lastSent) >= wait {
			p.lastSent = now
			p.retries++
			out = append(out, p)
		}
	}
	return out
}

// rttEstimator keeps a smoothed round trip time (RFC 6298 style).
type rttEstimator struct {
	srtt    time.Duration
	rttvar  time.Duration
	sampled bool
}

func (r *rttEstimator) sample(d time.Duration) {
	if !r.sampled {
		r.srtt, r.rttvar, r.sampled = d, d/2, true
		return
	}
	diff := r.srtt - d
	if diff < 0 {
		diff = -diff
	}
	r.rttvar = (3*r.rttvar + diff) / 4
	r.srtt = (7*r.srtt + d) / 8
}

func (r *rttEstimator) rto() time.Duration {
	rto := r.srtt + 4*r.rttvar
	if rto < minRTO {
		return minRTO
	}
	if rto > maxRTO {
		return maxRTO
	}
	return rto
}
