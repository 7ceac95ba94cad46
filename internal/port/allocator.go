package port

import (
	"fmt"
	"net"
	"strconv"
	"sync"
)

const (
	minPort = 3000
	maxPort = 9000
)

// Allocator suggests loopback ports for proxied apps. Ports already given to
// other sites on this host are reserved so two apps never share one.
type Allocator struct {
	mu       sync.Mutex
	assigned map[int]string // port -> service id
	free     func(port int) bool
}

func NewAllocator() *Allocator {
	return &Allocator{
		assigned: make(map[int]string),
		free:     Available,
	}
}

// Suggest returns the port for appID: its reserved port if it has one, else
// preferred when free, else the next free port above it.
func (a *Allocator) Suggest(appID string, preferred int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for port, id := range a.assigned {
		if id == appID {
			return port, nil
		}
	}

	start := preferred
	if start < minPort || start > maxPort {
		start = minPort
	}
	for port := start; port <= maxPort; port++ {
		if _, taken := a.assigned[port]; taken {
			continue
		}
		if !a.free(port) {
			continue
		}
		a.assigned[port] = appID
		return port, nil
	}

	return 0, fmt.Errorf("no available ports in range %d-%d", start, maxPort)
}

func (a *Allocator) Release(appID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for port, id := range a.assigned {
		if id == appID {
			delete(a.assigned, port)
			return
		}
	}
}

// Reserve marks a port as used by an app, typically restored from run history.
func (a *Allocator) Reserve(appID string, port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.assigned[port] = appID
}

func (a *Allocator) Owner(port int) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.assigned[port]
	return id, ok
}

// Available reports whether nothing listens on the loopback port.
func Available(port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
