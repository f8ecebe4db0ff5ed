package server

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"opaper/bridge"
	"opaper/codec"
	"opaper/library"
	"opaper/registry"
)

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithOrigins sets the origins allowed to open /bridge. See transport.CheckOrigin.
func WithOrigins(origins ...string) Option {
	return func(s *Server) {
		s.origins = origins
	}
}

// WithCodec sets the codec of stream guests and the default codec of websocket guests.
func WithCodec(ct codec.CodecType) Option {
	return func(s *Server) {
		s.codec = ct
	}
}

// WithLibrary serves saved backgrounds under /wallpapers.
func WithLibrary(lib *library.Library) Option {
	return func(s *Server) {
		s.library = lib
	}
}

// WithBridgeOptions is applied to every session channel.
func WithBridgeOptions(opts ...bridge.Option) Option {
	return func(s *Server) {
		s.bridgeOpts = append(s.bridgeOpts, opts...)
	}
}

// WithGatherer exposes g on /metrics instead of the default prometheus registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithDiscovery advertises the server as addr under service while it serves.
func WithDiscovery(reg registry.Registry, service string, ep registry.Endpoint) Option {
	return func(s *Server) {
		s.discovery = reg
		s.service = service
		s.endpoint = ep
	}
}

// WithHeartbeat sets the heartbeat interval of stream guests.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) {
		s.heartbeat = d
	}
}
