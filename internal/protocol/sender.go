package protocol

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/haggle-net/haggle/internal/metadata"
	"github.com/haggle-net/haggle/internal/types"
)

// sendJob is one queued transfer: the object, the node it is destined
// for (carried through only for the completion callback's event payload),
// and the completion callback.
type sendJob struct {
	obj  *types.DataObject
	node *types.Node
	done func(err error)
}

// senderInstance owns one peer interface's outbound FIFO queue and its
// connection, dialing lazily and reconnecting after any failure so sends
// to the same peer are never reordered (spec.md §4.5: "each peer
// interface has its own send queue, processed strictly in order").
type senderInstance struct {
	logger  *slog.Logger
	iface   *types.Interface
	tcpPort int
	timeout time.Duration

	jobs chan sendJob
	stop chan struct{}

	mu    sync.Mutex
	state State
	conn  net.Conn

	onTransition func(from, to State)
}

func newSenderInstance(logger *slog.Logger, iface *types.Interface, tcpPort int, timeout time.Duration, onTransition func(from, to State)) *senderInstance {
	s := &senderInstance{
		logger:       logger,
		iface:        iface,
		tcpPort:      tcpPort,
		timeout:      timeout,
		jobs:         make(chan sendJob, 64),
		stop:         make(chan struct{}),
		state:        StateIdle,
		onTransition: onTransition,
	}
	go s.run()
	return s
}

func (s *senderInstance) enqueue(job sendJob) bool {
	select {
	case <-s.stop:
		return false
	default:
	}
	select {
	case s.jobs <- job:
		return true
	case <-s.stop:
		return false
	}
}

func (s *senderInstance) close() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()
}

func (s *senderInstance) run() {
	for {
		select {
		case job, ok := <-s.jobs:
			if !ok {
				return
			}
			err := s.send(job.obj)
			if job.done != nil {
				job.done(err)
			}
		case <-s.stop:
			return
		}
	}
}

func (s *senderInstance) send(d *types.DataObject) error {
	switch transportForInterfaceKind(s.iface.Kind()) {
	case TransportMedia:
		return s.sendToMedia(d)
	case TransportRFCOMM:
		return fmt.Errorf("protocol: rfcomm transport not implemented (bluetooth stub)")
	}

	conn, err := s.ensureConn()
	if err != nil {
		s.transition(EventError)
		return err
	}
	if s.timeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.timeout))
	}
	if err := writeDataObject(conn, d); err != nil {
		s.transition(EventError)
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		_ = conn.Close()
		return err
	}
	s.transition(EventSendComplete)
	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
	return nil
}

// sendToMedia copies d's metadata and payload into the media path as two
// files named by its content ID, the store-and-forward semantics of
// removable-media transport (spec.md §4.5).
func (s *senderInstance) sendToMedia(d *types.DataObject) error {
	_, dir, err := dialAddr(s.iface, s.tcpPort)
	if err != nil {
		return err
	}
	meta, err := metadata.EncodeDataObjectMetadata(d)
	if err != nil {
		return fmt.Errorf("protocol: encode media metadata: %w", err)
	}
	id := d.ID()
	if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("%x.meta", id)), meta, 0o600); err != nil {
		return fmt.Errorf("protocol: write media metadata: %w", err)
	}
	if p := d.Payload(); p != nil && p.FilePath != "" {
		buf, err := os.ReadFile(p.FilePath)
		if err != nil {
			return fmt.Errorf("protocol: read payload for media copy: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("%x.do", id)), buf, 0o600); err != nil {
			return fmt.Errorf("protocol: write media payload: %w", err)
		}
	}
	return nil
}

func (s *senderInstance) ensureConn() (net.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn, nil
	}
	s.state = StateConnecting
	network, addr, err := dialAddr(s.iface, s.tcpPort)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialTimeout(network, addr, dialTimeout(s.timeout))
	if err != nil {
		return nil, err
	}
	s.conn = conn
	if s.onTransition != nil {
		s.onTransition(StateConnecting, StateConnected)
	}
	s.state = StateConnected
	return conn, nil
}

func dialTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}

func (s *senderInstance) transition(ev Event) {
	s.mu.Lock()
	old := s.state
	s.mu.Unlock()
	res := ApplyEvent(old, ev)
	if res.Changed && s.onTransition != nil {
		s.onTransition(res.OldState, res.NewState)
	}
}
