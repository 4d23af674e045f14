package server

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dm-vev/sqe/server/info"
	"github.com/dm-vev/sqe/server/session"
	"github.com/dm-vev/sqe/server/stats"
	"github.com/dm-vev/sqe/server/stats/statsdb"
)

// Config contains options for starting a server.
type Config struct {
	// Log is the Logger to use for logging information. If nil, Log is set to
	// slog.Default(). Failures to deliver replies to single clients are only
	// logged if Log has at least debug level.
	Log *slog.Logger
	// Listeners is a list of functions to create a Listener using a Config, one
	// for each Listener to be added to the Server. If left empty, no clients
	// will be able to connect to the Server.
	Listeners []func(conf Config) (Listener, error)
	// Stats is the registry of process-wide counters. If nil, a new registry
	// is created.
	Stats *stats.Registry
	// StatsDB is used to restore the cumulative counters on start and to save
	// them periodically. If nil, counters start at zero and are not saved. The
	// Server takes ownership of StatsDB and closes it in Server.Close.
	StatsDB *statsdb.DB
	// CheckpointInterval is the interval at which counters are saved to
	// StatsDB. If 0 or lower, a one minute interval is used.
	CheckpointInterval time.Duration
	// WriteTimeout limits how long sending a single reply may block. If 0, a
	// ten second timeout is used. A negative value disables the timeout.
	WriteTimeout time.Duration
}

// New creates a Server using fields of conf. Connections from the Server's
// listeners are accepted after calling Server.Listen().
func (conf Config) New() *Server {
	conf = conf.withDefaults()
	if len(conf.Listeners) == 0 {
		conf.Log.Warn("config: no listeners set, no connections will be accepted")
	}

	srv := &Server{
		conf:     conf,
		log:      conf.Log,
		stats:    conf.Stats,
		sessions: session.NewStore(),
		info:     info.NewHandler(conf.Stats),
		closing:  make(chan struct{}),
	}
	srv.restoreStats()

	for _, lf := range conf.Listeners {
		l, err := lf(conf)
		if err != nil {
			conf.Log.Error("create listener: " + err.Error())
			continue
		}
		if l == nil {
			conf.Log.Error("create listener: returned nil listener")
			continue
		}
		srv.listeners = append(srv.listeners, l)
	}
	return srv
}

func (conf Config) withDefaults() Config {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Stats == nil {
		conf.Stats = stats.NewRegistry()
	}
	if conf.CheckpointInterval <= 0 {
		conf.CheckpointInterval = time.Minute
	}
	if conf.WriteTimeout == 0 {
		conf.WriteTimeout = 10 * time.Second
	}
	return conf
}

// UserConfig is the user configuration for a server. It holds settings that
// affect different aspects of the server, such as the addresses it listens on.
// UserConfig may be serialised and can be converted to a Config by calling
// UserConfig.Config().
type UserConfig struct {
	// Network holds settings related to network aspects of the server.
	Network struct {
		// Address is the TCP address on which the server accepts MessagePack
		// request streams. Leave empty to disable the TCP listener.
		Address string
		// WebSocketAddress is the address on which the server accepts
		// WebSocket clients, each binary message carrying one request. Leave
		// empty to disable the WebSocket listener.
		WebSocketAddress string
		// WriteTimeout limits how long sending a single reply may block, in
		// time.ParseDuration format. "0s" disables the timeout.
		WriteTimeout string
	}
	Stats struct {
		// SaveData controls whether cumulative counters are saved and
		// restored across restarts.
		SaveData bool
		// Folder is the folder that the counter database resides in.
		Folder string
		// CheckpointInterval is the interval between two saves, in
		// time.ParseDuration format.
		CheckpointInterval string
	}
	Log struct {
		// Level is the minimum level of logged messages: "debug", "info",
		// "warn" or "error".
		Level string
	}
}

// Config converts a UserConfig to a Config, so that it may be used for creating
// a Server. An error is returned if the configuration holds invalid values or
// if the counter database could not be opened.
func (uc UserConfig) Config(log *slog.Logger) (Config, error) {
	conf := Config{Log: log}

	writeTimeout, err := parseDuration("Network.WriteTimeout", uc.Network.WriteTimeout)
	if err != nil {
		return conf, err
	}
	if writeTimeout == 0 && strings.TrimSpace(uc.Network.WriteTimeout) != "" {
		writeTimeout = -1
	}
	conf.WriteTimeout = writeTimeout

	if conf.CheckpointInterval, err = parseDuration("Stats.CheckpointInterval", uc.Stats.CheckpointInterval); err != nil {
		return conf, err
	}

	if addr := strings.TrimSpace(uc.Network.Address); addr != "" {
		conf.Listeners = append(conf.Listeners, func(conf Config) (Listener, error) {
			return ListenTCP(addr, conf.WriteTimeout)
		})
	}
	if addr := strings.TrimSpace(uc.Network.WebSocketAddress); addr != "" {
		conf.Listeners = append(conf.Listeners, func(conf Config) (Listener, error) {
			return ListenWebSocket(addr, conf.WriteTimeout, conf.Log)
		})
	}

	if uc.Stats.SaveData {
		db, err := statsdb.Open(uc.Stats.Folder)
		if err != nil {
			return conf, fmt.Errorf("create stats database: %w", err)
		}
		conf.StatsDB = db
	}
	return conf, nil
}

// LogLevel returns the slog.Level configured in uc.Log.Level.
func (uc UserConfig) LogLevel() (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(uc.Log.Level) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(uc.Log.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: Log.Level: %w", err)
	}
	return level, nil
}

func parseDuration(name, value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config: %s must not be negative", name)
	}
	return d, nil
}

// DefaultConfig returns a configuration with the default values filled out.
func DefaultConfig() UserConfig {
	c := UserConfig{}
	c.Network.Address = ":7667"
	c.Network.WriteTimeout = "10s"
	c.Stats.SaveData = true
	c.Stats.Folder = "stats"
	c.Stats.CheckpointInterval = "1m"
	c.Log.Level = "info"
	return c
}
