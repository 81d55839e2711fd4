package client

import (
	"net"
	"sync"

	"github.com/luma/resplink/transport"
)

// link is one physical connection. It is closed once it has been killed
// and the last exchange using it has left.
type link struct {
	raw    net.Conn
	stream *transport.Stream
	conn   *transport.Conn

	mu     sync.Mutex
	users  int
	dead   bool
	closed bool
}

func (l *link) enter() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.dead {
		return false
	}

	l.users++
	return true
}

func (l *link) leave() {
	l.mu.Lock()
	l.users--
	release := l.releasable()
	l.mu.Unlock()

	if release {
		l.stream.Close()
	}
}

// kill interrupts any exchange in flight and stops new ones.
func (l *link) kill() {
	l.mu.Lock()
	l.dead = true
	release := l.releasable()
	l.mu.Unlock()

	l.raw.Close()

	if release {
		l.stream.Close()
	}
}

func (l *link) releasable() bool {
	if !l.dead || l.users > 0 || l.closed {
		return false
	}

	l.closed = true
	return true
}
