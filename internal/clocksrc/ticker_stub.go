//go:build !linux

package clocksrc

import (
	"time"

	"github.com/mkcore-project/mkcore/internal/constants"
)

// NewPlatform builds the non-Linux fallback Source: a portable
// time.Ticker, for platforms without a real io_uring ring.
func NewPlatform() (Source, error) {
	return newTicker(constants.DefaultTickInterval), nil
}

type ticker struct {
	t      *time.Ticker
	ticks  chan Tick
	done   chan struct{}
	closed chan struct{}
}

func newTicker(interval time.Duration) *ticker {
	tk := &ticker{
		t:      time.NewTicker(interval),
		ticks:  make(chan Tick),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go tk.run()
	return tk
}

func (tk *ticker) run() {
	defer close(tk.closed)
	for {
		select {
		case when := <-tk.t.C:
			select {
			case tk.ticks <- Tick{At: when}:
			case <-tk.done:
				return
			}
		case <-tk.done:
			return
		}
	}
}

func (tk *ticker) Ticks() <-chan Tick { return tk.ticks }

func (tk *ticker) Close() error {
	select {
	case <-tk.done:
		return nil
	default:
		close(tk.done)
	}
	tk.t.Stop()
	<-tk.closed
	close(tk.ticks)
	return nil
}

var _ Source = (*ticker)(nil)
