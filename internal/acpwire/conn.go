package acpwire

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/happyhq/happy-acp/internal/logger"
)

// RequestHandler serves an inbound JSON-RPC request from the child
// (requestPermission) and returns the result to marshal back, or an error.
type RequestHandler func(method string, params json.RawMessage) (result any, err error)

// NotificationHandler observes an inbound JSON-RPC notification from the
// child (session/update).
type NotificationHandler func(method string, params json.RawMessage)

// Conn is a bidirectional JSON-RPC 2.0 connection framed over a child
// process's stdin/stdout. All outbound writes go through a single
// FrameWriter; all inbound lines are dispatched from one reader goroutine.
// The pending-request map is guarded by mu, since Call adds and removes
// entries from its callers' goroutines while the reader resolves them.
type Conn struct {
	writer *FrameWriter
	reader *FrameReader

	nextID int64

	mu      sync.Mutex
	pending map[int64]chan *Message

	onRequest      RequestHandler
	onNotification NotificationHandler

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConn starts dispatching from reader immediately in a background
// goroutine. onRequest and onNotification may be nil.
func NewConn(writer *FrameWriter, reader *FrameReader, onRequest RequestHandler, onNotification NotificationHandler) *Conn {
	c := &Conn{
		writer:         writer,
		reader:         reader,
		pending:        make(map[int64]chan *Message),
		onRequest:      onRequest,
		onNotification: onNotification,
		closed:         make(chan struct{}),
	}
	go c.dispatchLoop()
	return c
}

func (c *Conn) dispatchLoop() {
	defer close(c.closed)
	for line := range c.reader.Lines() {
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			logger.Info("acpwire: dropping non-JSON-RPC line: %v", err)
			continue
		}
		switch {
		case msg.IsResponse():
			c.resolve(&msg)
		case msg.IsRequest():
			c.serveRequest(&msg)
		case msg.IsNotification():
			if c.onNotification != nil {
				c.onNotification(msg.Method, msg.Params)
			}
		default:
			logger.Info("acpwire: dropping malformed message")
		}
	}
}

func (c *Conn) resolve(msg *Message) {
	var id int64
	if msg.ID != nil {
		_ = json.Unmarshal(*msg.ID, &id)
	}
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		ch <- msg
	}
}

func (c *Conn) serveRequest(msg *Message) {
	var result any
	var rpcErr *RPCError
	if c.onRequest == nil {
		rpcErr = &RPCError{Code: -32601, Message: "method not found"}
	} else {
		res, err := c.onRequest(msg.Method, msg.Params)
		if err != nil {
			rpcErr = &RPCError{Code: -32000, Message: err.Error()}
		} else {
			result = res
		}
	}
	resp := Message{JSONRPC: "2.0", ID: msg.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		raw, err := json.Marshal(result)
		if err != nil {
			resp.Error = &RPCError{Code: -32603, Message: err.Error()}
		} else {
			resp.Result = raw
		}
	}
	c.send(&resp)
}

func (c *Conn) send(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Error("acpwire: failed to marshal outbound message: %v", err)
		return
	}
	if err := c.writer.WriteLine(data); err != nil {
		logger.Error("acpwire: failed to write outbound message: %v", err)
	}
}

// Call issues a JSON-RPC request and blocks until the matching response
// arrives or closeCh fires. The caller decodes Result/Error itself.
func (c *Conn) Call(method string, params any, closeCh <-chan struct{}) (*Message, error) {
	id := atomic.AddInt64(&c.nextID, 1)
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params for %s: %w", method, err)
	}
	idRaw := json.RawMessage(fmt.Sprintf("%d", id))
	ch := make(chan *Message, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	c.send(&Message{JSONRPC: "2.0", ID: &idRaw, Method: method, Params: raw})

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return resp, resp.Error
		}
		return resp, nil
	case <-closeCh:
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("connection closed waiting for %s", method)
	case <-c.closed:
		return nil, fmt.Errorf("connection closed waiting for %s", method)
	}
}

type callResult struct {
	resp *Message
	err  error
}

// CallTimeout is Call with a timeout applied on top of closeCh.
func (c *Conn) CallTimeout(method string, params any, timeout time.Duration, closeCh <-chan struct{}) (*Message, error) {
	done := make(chan callResult, 1)
	abort := make(chan struct{})
	go func() {
		resp, err := c.Call(method, params, abort)
		done <- callResult{resp, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.resp, r.err
	case <-timer.C:
		close(abort)
		<-done
		return nil, fmt.Errorf("%s timed out after %s", method, timeout)
	case <-closeCh:
		close(abort)
		<-done
		return nil, fmt.Errorf("%s aborted", method)
	}
}

// Notify issues a JSON-RPC notification (no response expected).
func (c *Conn) Notify(method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params for %s: %w", method, err)
	}
	c.send(&Message{JSONRPC: "2.0", Method: method, Params: raw})
	return nil
}

// Done returns a channel closed once the reader side has exhausted the
// child's stdout (process exited or stream closed).
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}
