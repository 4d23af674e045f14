package server

import (
	"errors"
	"io"
	"net"

	"github.com/dm-vev/sqe/server/info"
	"github.com/dm-vev/sqe/server/session"
	"github.com/dm-vev/sqe/server/wire"
)

// handleConn serves requests from c until the connection ends.
func (srv *Server) handleConn(c Conn) {
	s := session.New(c)
	log := srv.log.With("session", s.ID().String(), "raddr", c.RemoteAddr().String())

	srv.sessions.Add(s)
	srv.stats.ConnectionOpened()
	log.Debug("client connected")
	defer func() {
		srv.sessions.Remove(s.ID())
		srv.stats.ConnectionClosed()
		_ = s.Close()
		log.Debug("client disconnected")
	}()
	if srv.isClosing() {
		return
	}

	for {
		req, err := c.ReadRequest()
		if err != nil {
			var reqErr *wire.RequestError
			if errors.As(err, &reqErr) {
				srv.stats.ClientRequest()
				s.ClientRequest()
				srv.reject(s, reqErr.Tag, reqErr.ID, reqErr.Msg)
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !srv.isClosing() {
				log.Debug("read request failed", "err", err)
			}
			return
		}
		srv.stats.ClientRequest()
		s.ClientRequest()
		srv.dispatch(s, req)
	}
}

// dispatch routes req to the handler for its request type.
func (srv *Server) dispatch(s *session.Session, req *wire.Request) {
	switch req.Type {
	case wire.TypeInfo:
		err := srv.info.HandleInfoRequest(s, req.ID, req)
		switch {
		case errors.Is(err, info.ErrMalformedRequest):
			srv.stats.InvalidRequest()
			s.InvalidRequest()
		case err != nil:
			srv.log.Debug("info reply failed", "err", err, "session", s.ID().String(), "raddr", s.RemoteAddr().String())
		}
	case wire.TypeSetOpt, wire.TypeGetOpt, wire.TypeGet, wire.TypeGetTable, wire.TypeDestInfo:
		srv.reject(s, req.Type|wire.FlagError, req.ID, "unsupported request type")
	default:
		srv.reject(s, req.Type&wire.TypeMask|wire.FlagError, req.ID, "bad request type")
	}
}

// reject counts an invalid request and sends a single error reply for it.
func (srv *Server) reject(s *session.Session, tag int, id uint32, msg string) {
	srv.stats.InvalidRequest()
	s.InvalidRequest()

	w := wire.NewWriter()
	defer w.Release()
	if err := w.Error(tag, id, msg); err != nil {
		srv.log.Debug("encode error reply", "err", err, "session", s.ID().String())
		return
	}
	if err := s.Send(w.Bytes()); err != nil {
		srv.log.Debug("send error reply", "err", err, "session", s.ID().String(), "raddr", s.RemoteAddr().String())
	}
}
