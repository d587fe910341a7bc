// Package podstate holds the in-memory pod/container/exec registry.
// All mutation happens on the reactor goroutine, so the embedded
// mutexes exist only to make that invariant auditable and
// to let tests and command handlers that run off the reactor goroutine
// (e.g. file helpers) touch the tables safely -- the same defensive-embed
// pattern internal/ron's Client/Command structs in the teacher use even
// though ron, too, expects most access from one place.
package podstate

import (
	"os"
	"sync"

	"github.com/sandia-minimega/pod-init/internal/agenterr"
)

// Exec is a single launched process, identified by a host-assigned 64-bit
// sequence.
type Exec struct {
	Seq         uint64
	ContainerID string // empty for a free-standing exec with no container
	PID         int
	TTY         bool

	// Ptyfd is valid when TTY is true; Stdin/Stdout/Stderr are valid
	// otherwise. A TTY exec's stdin, stdout and ptyfd are all the same
	// descriptor and there is no stderr.
	Ptyfd  int
	Stdin  int
	Stdout int
	Stderr int

	Exit     bool
	ExitCode uint8

	CloseStdinRequest bool

	Process *os.Process
}

// Container is a process tree with its own mount namespace inside the
// pod.
type Container struct {
	ID       string
	MntNsFd  int
	Primary  *Exec
	Cleanups []func() error
}

// Pod is the sandbox singleton.
type Pod struct {
	mu sync.RWMutex

	Hostname string
	ShareTag string

	InitPid int

	containers map[string]*Container
	execs      map[uint64]*Exec

	// containerOrder and execOrder preserve insertion order for any
	// iteration that must be deterministic (e.g. StartPod's batched
	// container start, or tests).
	containerOrder []string
	execOrder      []uint64

	// Remains is the number of containers whose primary exec is still
	// running.
	Remains int

	LastRequestType uint32
}

// New returns an empty Pod, not yet started.
func New() *Pod {
	return &Pod{
		containers: make(map[string]*Container),
		execs:      make(map[uint64]*Exec),
	}
}

// AddContainer inserts c, keyed by its id. Returns agenterr.Internal if the
// id is already present.
func (p *Pod) AddContainer(c *Container) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c.ID == "" {
		return agenterr.New(agenterr.Internal, "AddContainer", nil)
	}
	if _, exists := p.containers[c.ID]; exists {
		return agenterr.New(agenterr.Internal, "AddContainer", nil)
	}

	p.containers[c.ID] = c
	p.containerOrder = append(p.containerOrder, c.ID)
	return nil
}

// Container looks up a container by id.
func (p *Pod) Container(id string) (*Container, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	c, ok := p.containers[id]
	if !ok {
		return nil, agenterr.New(agenterr.NotFound, "Container", nil)
	}
	return c, nil
}

// Containers returns every container in insertion order.
func (p *Pod) Containers() []*Container {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*Container, 0, len(p.containerOrder))
	for _, id := range p.containerOrder {
		if c, ok := p.containers[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// RemoveContainer deletes a container. The caller must have already
// verified its primary exec has exited.
func (p *Pod) RemoveContainer(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.containers[id]; !ok {
		return agenterr.New(agenterr.NotFound, "RemoveContainer", nil)
	}
	delete(p.containers, id)
	for i, oid := range p.containerOrder {
		if oid == id {
			p.containerOrder = append(p.containerOrder[:i], p.containerOrder[i+1:]...)
			break
		}
	}
	return nil
}

// AddExec inserts e, keyed by its sequence number.
func (p *Pod) AddExec(e *Exec) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e.Seq == 0 {
		return agenterr.New(agenterr.Internal, "AddExec", nil)
	}
	if _, exists := p.execs[e.Seq]; exists {
		return agenterr.New(agenterr.Internal, "AddExec", nil)
	}

	p.execs[e.Seq] = e
	p.execOrder = append(p.execOrder, e.Seq)
	return nil
}

// Exec looks up an exec by sequence number.
func (p *Pod) Exec(seq uint64) (*Exec, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	e, ok := p.execs[seq]
	if !ok {
		return nil, agenterr.New(agenterr.NotFound, "Exec", nil)
	}
	return e, nil
}

// ExecByPID scans for the exec owning pid -- used by the reaper. The
// list is short enough (hundreds) that a linear scan is the right
// tradeoff over a second index.
func (p *Pod) ExecByPID(pid int) (*Exec, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, seq := range p.execOrder {
		if e := p.execs[seq]; e != nil && e.PID == pid {
			return e, true
		}
	}
	return nil, false
}

// Execs returns every exec in insertion order.
func (p *Pod) Execs() []*Exec {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*Exec, 0, len(p.execOrder))
	for _, seq := range p.execOrder {
		if e, ok := p.execs[seq]; ok {
			out = append(out, e)
		}
	}
	return out
}

// RemoveExec deletes an exec after its exit code has been delivered and its
// stdio buffers drained.
func (p *Pod) RemoveExec(seq uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.execs[seq]; !ok {
		return agenterr.New(agenterr.NotFound, "RemoveExec", nil)
	}
	delete(p.execs, seq)
	for i, s := range p.execOrder {
		if s == seq {
			p.execOrder = append(p.execOrder[:i], p.execOrder[i+1:]...)
			break
		}
	}
	return nil
}

// DecRemains decrements the running-container count; Remains never goes
// negative.
func (p *Pod) DecRemains() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Remains > 0 {
		p.Remains--
	}
	return p.Remains
}

func (p *Pod) SetRemains(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Remains = n
}
