package server

import (
	"errors"
	"iter"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/dm-vev/sqe/server/info"
	"github.com/dm-vev/sqe/server/session"
	"github.com/dm-vev/sqe/server/stats"
)

// Server accepts client connections and answers their requests. A Server is
// created using Config.New.
type Server struct {
	conf    Config
	log     *slog.Logger
	started time.Time

	listeners []Listener
	sessions  *session.Store
	stats     *stats.Registry
	info      *info.Handler

	listenOnce sync.Once
	closeOnce  sync.Once
	closing    chan struct{}
	wg         sync.WaitGroup
	checkpoint sync.WaitGroup
}

// Listen starts accepting connections on all listeners of the Server and, if a
// stats database is configured, starts saving counters periodically. Listen
// returns immediately and only has an effect the first time it is called.
func (srv *Server) Listen() {
	srv.listenOnce.Do(func() {
		srv.started = time.Now()
		for _, l := range srv.listeners {
			srv.log.Info("listener running.", "addr", l.Addr().String())
			srv.wg.Add(1)
			go srv.accept(l)
		}
		if srv.conf.StatsDB != nil {
			srv.checkpoint.Add(1)
			go srv.checkpointLoop()
		}
	})
}

// StartTime returns the time at which Listen was first called.
func (srv *Server) StartTime() time.Time {
	return srv.started
}

// Stats returns the registry of process-wide counters.
func (srv *Server) Stats() *stats.Registry {
	return srv.stats
}

// Sessions returns an iterator over the sessions of all connected clients.
func (srv *Server) Sessions() iter.Seq[*session.Session] {
	return srv.sessions.All()
}

// SessionCount returns the number of connected clients.
func (srv *Server) SessionCount() int {
	return srv.sessions.Len()
}

// Addrs returns the addresses of all listeners of the Server.
func (srv *Server) Addrs() []net.Addr {
	addrs := make([]net.Addr, 0, len(srv.listeners))
	for _, l := range srv.listeners {
		addrs = append(addrs, l.Addr())
	}
	return addrs
}

// Closed returns a channel that is closed once Close has been called.
func (srv *Server) Closed() <-chan struct{} {
	return srv.closing
}

// Close closes all listeners, disconnects all clients and saves a final
// checkpoint of the counters. Close may be called more than once.
func (srv *Server) Close() error {
	var err error
	srv.closeOnce.Do(func() {
		srv.log.Info("Server closing...")
		close(srv.closing)

		for _, l := range srv.listeners {
			if cerr := l.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				err = errors.Join(err, cerr)
			}
		}
		for s := range srv.sessions.All() {
			_ = s.Close()
		}
		srv.wg.Wait()
		srv.checkpoint.Wait()

		if db := srv.conf.StatsDB; db != nil {
			srv.saveStats()
			if cerr := db.Close(); cerr != nil {
				err = errors.Join(err, cerr)
			}
		}
		srv.log.Info("Server closed.", "uptime", time.Since(srv.started).Round(time.Second).String())
	})
	return err
}

func (srv *Server) isClosing() bool {
	select {
	case <-srv.closing:
		return true
	default:
		return false
	}
}

// accept accepts connections from l until it is closed.
func (srv *Server) accept(l Listener) {
	defer srv.wg.Done()
	for {
		c, err := l.Accept()
		if err != nil {
			if srv.isClosing() || errors.Is(err, net.ErrClosed) {
				return
			}
			srv.log.Error("accept connection", "err", err, "addr", l.Addr().String())
			time.Sleep(100 * time.Millisecond)
			continue
		}
		srv.wg.Add(1)
		go func() {
			defer srv.wg.Done()
			srv.handleConn(c)
		}()
	}
}

// restoreStats seeds the registry from the latest checkpoint in the stats
// database, if any.
func (srv *Server) restoreStats() {
	db := srv.conf.StatsDB
	if db == nil {
		return
	}
	saved, at, ok, err := db.Load()
	if err != nil {
		srv.log.Error("restore stats: " + err.Error())
		return
	}
	if !ok {
		return
	}
	srv.stats.Restore(saved)
	srv.log.Info("Restored stats checkpoint.", "saved", at.Format(time.RFC3339))
}

func (srv *Server) checkpointLoop() {
	defer srv.checkpoint.Done()
	t := time.NewTicker(srv.conf.CheckpointInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			srv.saveStats()
		case <-srv.closing:
			return
		}
	}
}

func (srv *Server) saveStats() {
	if err := srv.conf.StatsDB.Save(srv.stats.Snapshot()); err != nil {
		srv.log.Error("save stats: " + err.Error())
	}
}
