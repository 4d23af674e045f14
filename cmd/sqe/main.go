package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dm-vev/sqe/server"
	"github.com/dm-vev/sqe/server/console"
	"github.com/pelletier/go-toml"
)

func main() {
	uc, err := readConfig("config.toml")
	if err != nil {
		slog.Error("read config: " + err.Error())
		os.Exit(1)
	}
	level, err := uc.LogLevel()
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	conf, err := uc.Config(log)
	if err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
	srv := conf.New()
	srv.Listen()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go console.New(srv, log).Run(ctx)

	select {
	case <-ctx.Done():
	case <-srv.Closed():
	}
	if err := srv.Close(); err != nil {
		log.Error("close server: " + err.Error())
		os.Exit(1)
	}
}

// readConfig reads the configuration from the file at path, creating it with
// the default values if it does not exist.
func readConfig(path string) (server.UserConfig, error) {
	c := server.DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		encoded, err := toml.Marshal(c)
		if err != nil {
			return c, fmt.Errorf("encode default config: %w", err)
		}
		if err := os.WriteFile(path, encoded, 0644); err != nil {
			return c, fmt.Errorf("create default config: %w", err)
		}
		return c, nil
	}
	if err != nil {
		return c, err
	}
	if err := toml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}
