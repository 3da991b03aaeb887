package terminal

import (
	"sync"

	"github.com/FL-Penly/mobile-terminal/internal/prefs"
)

// memoryPrefs keeps preferences for the lifetime of the process only.
type memoryPrefs struct {
	mu   sync.Mutex
	last  string
	echo  bool
	scale float64
}

func (p *memoryPrefs) LastSession() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *memoryPrefs) SetLastSession(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = name
}

func (p *memoryPrefs) ClearLastSession() { p.SetLastSession("") }

func (p *memoryPrefs) SetPredictiveEcho(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.echo = enabled
}

func (p *memoryPrefs) DisplayScale() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.scale == 0 {
		return prefs.Defaults().DisplayScale
	}
	return p.scale
}

func (p *memoryPrefs) SetDisplayScale(scale float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scale = scale
	return nil
}
