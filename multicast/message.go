// Package multicast implements the multicast transport manager: a registry
// of per-protocol link managers and a registry of live transports keyed by
// locator. It never imports the replication log package; it only moves
// framed bytes.
package multicast

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// MessageType identifies the wire shape of a framed Message so a receiver
// can look up the right decoder without understanding the payload itself.
type MessageType uint64

// MessageDecoder consumes length bytes of r and reports how many it
// actually read.
type MessageDecoder func(r io.Reader, length uint64) (uint64, error)

type decoderRegistry struct {
	mu      sync.RWMutex
	mapping map[MessageType]MessageDecoder
}

func newDecoderRegistry() *decoderRegistry {
	return &decoderRegistry{mapping: make(map[MessageType]MessageDecoder)}
}

func (r *decoderRegistry) set(t MessageType, f MessageDecoder) MessageDecoder {
	r.mu.Lock()
	prev := r.mapping[t]
	r.mapping[t] = f
	r.mu.Unlock()
	return prev
}

func (r *decoderRegistry) get(t MessageType) MessageDecoder {
	r.mu.RLock()
	f := r.mapping[t]
	r.mu.RUnlock()
	return f
}

// Message is a framed value this package knows how to put on the wire: a
// type tag, a byte length, and its own content writer. An Event or Digest
// exchange rides inside a Message; this package never looks past the
// frame.
type Message interface {
	Type() MessageType
	Length() uint64
	WriteContent(io.Writer) (uint64, error)
}

// FramedConn multiplexes framed Messages over a net.Conn: one background
// goroutine reads and dispatches by MessageType, another drains an
// outbound channel and writes. Sends never block the caller; a full
// outbound channel drops the message and logs a warning instead.
type FramedConn struct {
	closing         uint32
	conn            net.Conn
	decoders        *decoderRegistry
	logger          *zap.Logger
	typeBytes       int
	lengthBytes     int
	ioDeadline      time.Duration
	writeChan       chan Message
	writingDoneChan chan struct{}
}

// NewFramedConn wraps conn with a 1-byte type / 3-byte length frame header
// (up to 256 message types, 16 MiB payloads). Pass a nil logger to default
// to zap.NewNop().
func NewFramedConn(conn net.Conn, logger *zap.Logger) *FramedConn {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FramedConn{
		conn:            conn,
		decoders:        newDecoderRegistry(),
		logger:          logger,
		typeBytes:       1,
		lengthBytes:     3,
		ioDeadline:      5 * time.Second,
		writeChan:       make(chan Message, 40),
		writingDoneChan: make(chan struct{}, 1),
	}
}

// RegisterDecoder installs the decoder invoked whenever a framed Message of
// type t arrives, returning whichever decoder it replaces, if any.
func (fc *FramedConn) RegisterDecoder(t MessageType, f MessageDecoder) MessageDecoder {
	return fc.decoders.set(t, f)
}

// Start launches the reader and writer goroutines. The connection is live
// once Start returns; call Close to stop both and release conn.
func (fc *FramedConn) Start() {
	go fc.reading()
	go fc.writing()
}

// Send enqueues m for the writer goroutine. It is a no-op once Close has
// begun.
func (fc *FramedConn) Send(m Message) {
	if atomic.LoadUint32(&fc.closing) == 0 {
		select {
		case fc.writeChan <- m:
		default:
			fc.logger.Warn("dropping outbound message, write channel full")
		}
	}
}

// Close signals the writer goroutine to stop, waits for it, then closes
// the underlying connection.
func (fc *FramedConn) Close() error {
	if atomic.CompareAndSwapUint32(&fc.closing, 0, 1) {
		fc.writeChan <- nil
		<-fc.writingDoneChan
	}
	return fc.conn.Close()
}

func (fc *FramedConn) reading() {
	header := make([]byte, fc.typeBytes+fc.lengthBytes)
	discard := make([]byte, 65536)
	for {
		if err := fc.readFull(header); err != nil {
			if err != io.EOF {
				fc.logger.Error("reading message header", zap.Error(err))
			}
			return
		}
		var t MessageType
		for i := 0; i < fc.typeBytes; i++ {
			t = (t << 8) | MessageType(header[i])
		}
		var length uint64
		for i := 0; i < fc.lengthBytes; i++ {
			length = (length << 8) | uint64(header[fc.typeBytes+i])
		}
		decode := fc.decoders.get(t)
		if decode == nil {
			fc.logger.Warn("unknown message type", zap.Uint64("type", uint64(t)))
			if err := fc.discard(length, discard); err != nil {
				fc.logger.Error("discarding unknown message", zap.Error(err))
				return
			}
			continue
		}
		if atomic.LoadUint32(&fc.closing) != 0 {
			return
		}
		if _, err := decode(fc.conn, length); err != nil {
			fc.logger.Error("decoding message content", zap.Error(err))
			return
		}
	}
}

func (fc *FramedConn) readFull(b []byte) error {
	n := 0
	for n < len(b) {
		fc.conn.SetReadDeadline(time.Now().Add(fc.ioDeadline))
		sn, err := fc.conn.Read(b[n:])
		n += sn
		if err != nil {
			return err
		}
	}
	return nil
}

func (fc *FramedConn) discard(length uint64, buf []byte) error {
	for length > 0 {
		fc.conn.SetReadDeadline(time.Now().Add(fc.ioDeadline))
		chunk := buf
		if length < uint64(len(buf)) {
			chunk = buf[:length]
		}
		n, err := fc.conn.Read(chunk)
		length -= uint64(n)
		if err != nil {
			return err
		}
	}
	return nil
}

func (fc *FramedConn) writing() {
	header := make([]byte, fc.typeBytes+fc.lengthBytes)
	for {
		m := <-fc.writeChan
		if m == nil {
			break
		}
		if atomic.LoadUint32(&fc.closing) != 0 {
			continue
		}
		t := m.Type()
		for i := fc.typeBytes - 1; i >= 0; i-- {
			header[i] = byte(t)
			t >>= 8
		}
		l := m.Length()
		for i := fc.lengthBytes - 1; i >= 0; i-- {
			header[fc.typeBytes+i] = byte(l)
			l >>= 8
		}
		fc.conn.SetWriteDeadline(time.Now().Add(fc.ioDeadline))
		if _, err := fc.conn.Write(header); err != nil {
			fc.logger.Error("writing message header", zap.Error(err))
			break
		}
		if _, err := m.WriteContent(fc.conn); err != nil {
			fc.logger.Error("writing message content", zap.Error(err))
			break
		}
	}
	fc.writingDoneChan <- struct{}{}
}
