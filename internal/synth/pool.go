package synth

import "sync"

// Pool tracks the live voices of one track so they can be cancelled
// together. Voices leave the pool when they end or are cancelled.
type Pool struct {
	mu     sync.Mutex
	voices []*Voice
}

func (p *Pool) Add(v *Voice) {
	if v == nil {
		return
	}
	p.mu.Lock()
	p.voices = append(p.voices, v)
	p.mu.Unlock()
}

// Render mixes every live voice into dst and prunes the ones that ended.
func (p *Pool) Render(dst []float32, frame0 int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	live := p.voices[:0]
	for _, v := range p.voices {
		v.Render(dst, frame0)
		if !v.Ended() {
			live = append(live, v)
		}
	}
	clear(p.voices[len(live):])
	p.voices = live
}

// CancelAll cancels every voice. Pending voices are dropped at once;
// sounding ones stay until their fade-out completes.
func (p *Pool) CancelAll(now float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	live := p.voices[:0]
	for _, v := range p.voices {
		v.Cancel(now)
		if !v.Ended() {
			live = append(live, v)
		}
	}
	clear(p.voices[len(live):])
	p.voices = live
}

// Len returns the number of voices not yet pruned.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.voices)
}

// Pending returns the number of registered voices that start after now.
func (p *Pool) Pending(now float64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, v := range p.voices {
		if !v.Ended() && v.StartTime() > now {
			n++
		}
	}
	return n
}
