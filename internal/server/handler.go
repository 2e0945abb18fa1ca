// Package server implements the per-connection command dispatcher and the
// TCP accept loop: the read/parse/dispatch/reply loop per connection, and
// the listener that spawns one such loop per accepted socket.
package server

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strconv"

	"go.uber.org/zap"

	"github.com/eaneto/ssache/internal/protocol"
	"github.com/eaneto/ssache/internal/store"
)

// Handler dispatches parsed commands from one connection to a Store and
// writes back RESP-ish replies. A Handler is created once per accepted
// connection and run on its own goroutine.
type Handler struct {
	conn   net.Conn
	store  *store.Store
	logger *zap.Logger
}

// NewHandler wraps conn for a single connection's read/dispatch/reply
// lifecycle against st.
func NewHandler(conn net.Conn, st *store.Store, logger *zap.Logger) *Handler {
	return &Handler{conn: conn, store: st, logger: logger}
}

// Serve runs the handler's read loop until the connection is closed by the
// peer or by the Listener at shutdown, by a write error, or by a QUIT
// command. Serve never returns an
// error: all failures are logged and the connection is simply released.
func (h *Handler) Serve() {
	defer h.conn.Close()

	remote := h.conn.RemoteAddr().String()
	r := bufio.NewReader(h.conn)
	w := bufio.NewWriter(h.conn)

	for {
		line, err := protocol.ReadLine(r)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.logger.Debug("connection read error", zap.String("remote", remote), zap.Error(err))
			}
			return
		}

		reply, quit := h.dispatchLine(line)
		if _, err := w.Write(reply); err != nil {
			h.logger.Debug("connection write error", zap.String("remote", remote), zap.Error(err))
			return
		}
		if err := w.Flush(); err != nil {
			h.logger.Debug("connection flush error", zap.String("remote", remote), zap.Error(err))
			return
		}
		if quit {
			return
		}
	}
}

// dispatchLine parses one inline command line and routes it to the Store,
// returning the encoded reply and whether the connection should close
// after writing it (true only for QUIT).
func (h *Handler) dispatchLine(line string) (reply []byte, quit bool) {
	cmd, err := protocol.Parse(line)
	if err != nil {
		return protocol.Error("unknown command"), false
	}

	switch cmd.Verb {
	case "GET":
		return h.handleGet(cmd.Args), false
	case "SET":
		return h.handleSet(cmd.Args), false
	case "EXPIRE":
		return h.handleExpire(cmd.Args), false
	case "INCR":
		return h.handleIncrDecr(cmd.Args, h.store.Incr), false
	case "DECR":
		return h.handleIncrDecr(cmd.Args, h.store.Decr), false
	case "SAVE":
		return h.handleSave(cmd.Args), false
	case "LOAD":
		return h.handleLoad(cmd.Args), false
	case "PING":
		return h.handlePing(cmd.Args), false
	case "QUIT":
		if len(cmd.Args) != 0 {
			return protocol.Error("wrong number of arguments"), false
		}
		return protocol.SimpleString("OK"), true
	default:
		return protocol.Error("unknown command"), false
	}
}

func (h *Handler) handleGet(args []string) []byte {
	if len(args) != 1 {
		return protocol.Error("wrong number of arguments")
	}
	value, err := h.store.Get(args[0])
	if err != nil {
		return protocol.NullBulk()
	}
	return protocol.BulkString(value)
}

func (h *Handler) handleSet(args []string) []byte {
	if len(args) != 2 {
		return protocol.Error("wrong number of arguments")
	}
	h.store.Set(args[0], []byte(args[1]))
	return protocol.SimpleString("OK")
}

func (h *Handler) handleExpire(args []string) []byte {
	if len(args) != 2 {
		return protocol.Error("wrong number of arguments")
	}
	ttl, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || ttl < 0 {
		return protocol.Error("invalid ttl")
	}
	if err := h.store.Expire(args[0], ttl); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return protocol.Error("key not found")
		}
		return protocol.Error("invalid ttl")
	}
	return protocol.SimpleString("OK")
}

func (h *Handler) handleIncrDecr(args []string, op func(string) (int64, error)) []byte {
	if len(args) != 1 {
		return protocol.Error("wrong number of arguments")
	}
	n, err := op(args[0])
	if err != nil {
		return protocol.Error("value is not an integer")
	}
	return protocol.Integer(n)
}

func (h *Handler) handleSave(args []string) []byte {
	if len(args) != 0 {
		return protocol.Error("wrong number of arguments")
	}
	if err := h.store.Save(); err != nil {
		h.logger.Error("save failed", zap.Error(err))
		return protocol.Error(ioErrorMessage(err))
	}
	return protocol.SimpleString("OK")
}

func (h *Handler) handleLoad(args []string) []byte {
	if len(args) != 0 {
		return protocol.Error("wrong number of arguments")
	}
	if err := h.store.Load(); err != nil {
		h.logger.Error("load failed", zap.Error(err))
		return protocol.Error(ioErrorMessage(err))
	}
	return protocol.SimpleString("OK")
}

// ioErrorMessage normalizes SAVE/LOAD failures to the wire message the
// dispatch table promises: the dump-format sentinel gets its exact wording,
// any other I/O failure is reported as a generic io error.
func ioErrorMessage(err error) string {
	if errors.Is(err, store.ErrBadDumpFormat) {
		return "bad dump format"
	}
	return "io error: " + err.Error()
}

func (h *Handler) handlePing(args []string) []byte {
	switch len(args) {
	case 0:
		return protocol.SimpleString("PONG")
	case 1:
		return protocol.BulkString([]byte(args[0]))
	default:
		return protocol.Error("wrong number of arguments")
	}
}
