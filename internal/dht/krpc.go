package dht

import (
	"crypto/rand"
	"crypto/sha1"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/prxssh/dhtnode/pkg/bencode"
	"github.com/prxssh/dhtnode/pkg/syncmap"
)

var (
	ErrTimeout       = errors.New("query timeout")
	ErrInvalidMsg    = errors.New("invalid message")
	ErrTransactionID = errors.New("unknown transaction id")
	ErrStopped       = errors.New("krpc stopped")
)

// KRPC frames KRPC queries/responses/errors over a transport, correlating
// outbound queries with inbound responses by a short-lived transaction id.
type KRPC struct {
	logger  *slog.Logger
	conn    *transport
	localID [sha1.Size]byte

	transactions *syncmap.Map[string, *transaction]

	queryHandler    func(*Message)
	responseHandler func(*Message)

	done chan struct{}
	wg   sync.WaitGroup
}

type transaction struct {
	query      *Message
	responseCh chan *Message
	sentTime   time.Time
	timeout    time.Duration
}

func NewKRPC(localID [sha1.Size]byte, listenAddr string, logger *slog.Logger) (*KRPC, error) {
	conn, err := newTransport(listenAddr)
	if err != nil {
		return nil, err
	}

	return &KRPC{
		logger:       logger,
		conn:         conn,
		localID:      localID,
		transactions: syncmap.New[string, *transaction](),
		done:         make(chan struct{}),
	}, nil
}

func (k *KRPC) LocalAddr() *net.UDPAddr {
	return k.conn.localAddr()
}

func (k *KRPC) Start() {
	k.wg.Go(func() { k.readLoop() })
	k.wg.Go(func() { k.timeoutLoop() })
}

func (k *KRPC) Stop() {
	close(k.done)
	k.conn.close()
	k.wg.Wait()
}

func (k *KRPC) SetQueryHandler(handler func(*Message)) {
	k.queryHandler = handler
}

func (k *KRPC) SetResponseHandler(handler func(*Message)) {
	k.responseHandler = handler
}

// SendQuery sends msg to addr and blocks until a matching response
// arrives, timeout elapses, or the KRPC is stopped.
func (k *KRPC) SendQuery(msg *Message, addr *net.UDPAddr, timeout time.Duration) (*Message, error) {
	if msg.T == "" {
		msg.T = k.generateTransactionID()
	}

	tx := &transaction{
		query:      msg,
		responseCh: make(chan *Message, 1),
		sentTime:   time.Now(),
		timeout:    timeout,
	}

	k.transactions.Put(msg.T, tx)

	if err := k.send(msg, addr); err != nil {
		k.removeTransaction(msg.T)
		logSendError(k.logger, err, addr)
		return nil, err
	}

	select {
	case response, ok := <-tx.responseCh:
		k.removeTransaction(msg.T)
		if !ok {
			return nil, ErrInvalidMsg
		}
		return response, nil
	case <-time.After(timeout):
		k.removeTransaction(msg.T)
		return nil, ErrTimeout
	case <-k.done:
		k.removeTransaction(msg.T)
		return nil, ErrStopped
	}
}

func (k *KRPC) SendResponse(msg *Message, addr *net.UDPAddr) error {
	return k.send(msg, addr)
}

func (k *KRPC) SendError(transactionID string, code int, message string, addr *net.UDPAddr) error {
	msg := NewError(transactionID, code, message)
	return k.send(msg, addr)
}

func (k *KRPC) send(msg *Message, addr *net.UDPAddr) error {
	data := k.messageToMap(msg)

	encoded, err := bencode.Marshal(data)
	if err != nil {
		return err
	}

	return k.conn.writeTo(encoded, addr)
}

// readLoop is the socket's single reader goroutine. Anything that fails
// to decode as a well-formed KRPC dict is dropped silently: replying to
// malformed input risks turning this node into a reflection amplifier.
func (k *KRPC) readLoop() {
	buf := make([]byte, 65536)

	for {
		select {
		case <-k.done:
			return
		default:
		}

		n, addr, err := k.conn.readFrom(buf, time.Second)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if !errors.Is(err, net.ErrClosed) {
				k.logger.Error("read udp packet failed", "error", err.Error())
			}
			continue
		}

		data, err := bencode.Unmarshal(buf[:n])
		if err != nil {
			k.logger.Debug("malformed message, dropping", "error", err.Error(), "from", addr)
			continue
		}

		msg := k.mapToMessage(data, addr)
		if msg == nil {
			k.logger.Debug("unparseable message, dropping", "from", addr)
			continue
		}
		k.handleMessage(msg)
	}
}

func (k *KRPC) timeoutLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-k.done:
			return
		case <-ticker.C:
			k.checkTimeouts()
		}
	}
}

func (k *KRPC) checkTimeouts() {
	now := time.Now()

	var expired []string
	k.transactions.Range(func(txID string, tx *transaction) {
		if now.Sub(tx.sentTime) > tx.timeout {
			close(tx.responseCh)
			expired = append(expired, txID)
		}
	})

	if len(expired) > 0 {
		k.transactions.Delete(expired...)
	}
}

func (k *KRPC) handleMessage(msg *Message) {
	switch msg.Y {
	case QueryType:
		if k.queryHandler != nil {
			k.queryHandler(msg)
		}

	case ResponseType:
		k.handleResponse(msg)

	case ErrorType:
		k.handleError(msg)
	}
}

func (k *KRPC) handleResponse(msg *Message) {
	tx, exists := k.transactions.Get(msg.T)
	if !exists {
		k.logger.Debug("received response for unknown transaction", "from", msg.Addr)
		if k.responseHandler != nil {
			k.responseHandler(msg)
		}
		return
	}

	k.logger.Debug("received response", "from", msg.Addr, "txid", msg.T)

	select {
	case tx.responseCh <- msg:
	default:
	}
}

func (k *KRPC) handleError(msg *Message) {
	if tx, exists := k.transactions.Get(msg.T); exists {
		close(tx.responseCh)
	}
}

func (k *KRPC) removeTransaction(transactionID string) {
	k.transactions.Delete(transactionID)
}

// generateTransactionID returns a fresh 2-byte opaque transaction id. KRPC
// never interprets the transaction id's contents; raw bytes (rather than a
// hex-encoded rendering of them) keep it at the minimal size BEP-5 expects
// on the wire.
func (k *KRPC) generateTransactionID() string {
	b := make([]byte, 2)
	rand.Read(b)
	return string(b)
}

func (k *KRPC) messageToMap(msg *Message) map[string]any {
	m := make(map[string]any)

	m["t"] = msg.T
	m["y"] = string(msg.Y)

	if msg.V != "" {
		m["v"] = msg.V
	}

	switch msg.Y {
	case QueryType:
		m["q"] = string(msg.Q)
		m["a"] = msg.A

	case ResponseType:
		m["r"] = msg.R

	case ErrorType:
		m["e"] = msg.E
	}

	return m
}

// mapToMessage converts a decoded bencode dict into a Message, classifying
// "r" dicts by shape since a response carries no method name of its own.
func (k *KRPC) mapToMessage(data any, addr *net.UDPAddr) *Message {
	dict, ok := data.(map[string]any)
	if !ok {
		return nil
	}

	msg := &Message{Addr: addr}

	if t, ok := dict["t"].(string); ok {
		msg.T = t
	} else {
		return nil
	}

	if y, ok := dict["y"].(string); ok {
		msg.Y = MessageType(y)
	} else {
		return nil
	}

	if v, ok := dict["v"].(string); ok {
		msg.V = v
	}

	switch msg.Y {
	case QueryType:
		if q, ok := dict["q"].(string); ok {
			msg.Q = QueryMethod(q)
		}
		if a, ok := dict["a"].(map[string]any); ok {
			msg.A = a
		} else {
			return nil
		}

	case ResponseType:
		r, ok := dict["r"].(map[string]any)
		if !ok {
			return nil
		}
		msg.R = r
		// classifyResponse is informational at this layer (callers needing
		// the sub-kind, e.g. Lookup, inspect msg.R directly); computing it
		// here still validates that the shape is one KRPC recognizes.
		if classifyResponse(r) == responseUnknown {
			return nil
		}

	case ErrorType:
		e, ok := dict["e"].([]any)
		if !ok {
			return nil
		}
		msg.E = e

	default:
		return nil
	}

	return msg
}
