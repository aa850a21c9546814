package zedlink

import (
	"net"
	"strconv"
	"time"

	"github.com/zedlink/zedlink/internal/capturesvc"
	"github.com/zedlink/zedlink/internal/edgesvc"
	"go.uber.org/zap"
)

// Config is the on-disk configuration. One file carries both roles so a
// machine can act as client on one edge and server for another machine.
type Config struct {
	Client ClientConfig `json:"client"`
	Server ServerConfig `json:"server"`
}

// ClientConfig drives edge detection and the outgoing control link.
type ClientConfig struct {
	ServerHost        string  `json:"server_host"`
	ServerPort        int     `json:"server_port"`
	TriggerEdge       string  `json:"trigger_edge"`
	TriggerDelay      float64 `json:"trigger_delay"`
	EdgeThreshold     int     `json:"edge_threshold"`
	ConnectionTimeout float64 `json:"connection_timeout"`
	AutoReconnect     bool    `json:"auto_reconnect"`
	EscapeHotkey      string  `json:"escape_hotkey"`
	ScreenWidth       int     `json:"screen_width"`
	ScreenHeight      int     `json:"screen_height"`
	Debug             bool    `json:"debug"`
}

// ServerConfig drives the listener and local injection.
type ServerConfig struct {
	ListenHost       string  `json:"listen_host"`
	ListenPort       int     `json:"listen_port"`
	MouseSensitivity float64 `json:"mouse_sensitivity"`
	ScreenWidth      int     `json:"screen_width"`
	ScreenHeight     int     `json:"screen_height"`
	Debug            bool    `json:"debug"`
}

const (
	DefaultServerHost = "192.168.1.100"
	DefaultPort       = 9876
)

func DefaultConfig() Config {
	return Config{
		Client: ClientConfig{
			ServerHost:        DefaultServerHost,
			ServerPort:        DefaultPort,
			TriggerEdge:       "right",
			TriggerDelay:      0.1,
			EdgeThreshold:     2,
			ConnectionTimeout: 5.0,
			AutoReconnect:     true,
			EscapeHotkey:      "esc",
		},
		Server: ServerConfig{
			ListenHost:       "0.0.0.0",
			ListenPort:       DefaultPort,
			MouseSensitivity: 1.0,
		},
	}
}

// Normalize forces every value into its valid range, logging each
// adjustment. Out-of-range numerics are clamped; unknown enumerations fall
// back to their defaults. A screen override is only honored when both
// dimensions are positive.
func (c Config) Normalize(log *zap.Logger) Config {
	c.Client = c.Client.normalize(log)
	c.Server = c.Server.normalize(log)
	return c
}

func (c ClientConfig) normalize(log *zap.Logger) ClientConfig {
	if _, err := edgesvc.ParseEdge(c.TriggerEdge); err != nil {
		log.Warn("Unknown trigger_edge, using right", zap.String("value", c.TriggerEdge))
		c.TriggerEdge = "right"
	}
	c.TriggerDelay = clamp(log, "trigger_delay", c.TriggerDelay, 0.05, 2.0)
	c.EdgeThreshold = clamp(log, "edge_threshold", c.EdgeThreshold, 1, 50)
	c.ServerPort = normalizePort(log, "server_port", c.ServerPort)
	c.ConnectionTimeout = clamp(log, "connection_timeout", c.ConnectionTimeout, 1.0, 30.0)
	if !capturesvc.IsHotkey(c.EscapeHotkey) {
		log.Warn("Unknown escape_hotkey, using esc", zap.String("value", c.EscapeHotkey))
		c.EscapeHotkey = "esc"
	}
	if c.ScreenWidth < 0 {
		c.ScreenWidth = 0
	}
	if c.ScreenHeight < 0 {
		c.ScreenHeight = 0
	}
	return c
}

func (c ServerConfig) normalize(log *zap.Logger) ServerConfig {
	c.ListenPort = normalizePort(log, "listen_port", c.ListenPort)
	c.MouseSensitivity = clamp(log, "mouse_sensitivity", c.MouseSensitivity, 0.1, 5.0)
	if c.ScreenWidth < 0 {
		c.ScreenWidth = 0
	}
	if c.ScreenHeight < 0 {
		c.ScreenHeight = 0
	}
	return c
}

// ServerAddress is the configured target in host:port form.
func (c ClientConfig) ServerAddress() string {
	return net.JoinHostPort(c.ServerHost, strconv.Itoa(c.ServerPort))
}

// Timeout is the connection timeout as a duration.
func (c ClientConfig) Timeout() time.Duration {
	return time.Duration(c.ConnectionTimeout * float64(time.Second))
}

// Delay is the trigger delay as a duration.
func (c ClientConfig) Delay() time.Duration {
	return time.Duration(c.TriggerDelay * float64(time.Second))
}

// Edge is the parsed trigger edge. Call after Normalize.
func (c ClientConfig) Edge() edgesvc.Edge {
	edge, _ := edgesvc.ParseEdge(c.TriggerEdge)
	return edge
}

// EscapeCode is the virtual keycode of the escape hotkey. Call after
// Normalize.
func (c ClientConfig) EscapeCode() uint16 {
	code, _ := capturesvc.HotkeyCode(c.EscapeHotkey)
	return code
}

// ListenAddress is the bind address in host:port form.
func (c ServerConfig) ListenAddress() string {
	return net.JoinHostPort(c.ListenHost, strconv.Itoa(c.ListenPort))
}

func clamp[T int | float64](log *zap.Logger, key string, v, lo, hi T) T {
	switch {
	case v < lo:
		log.Warn("Config value below range, clamping", zap.String("key", key), zap.Any("value", v), zap.Any("min", lo))
		return lo
	case v > hi:
		log.Warn("Config value above range, clamping", zap.String("key", key), zap.Any("value", v), zap.Any("max", hi))
		return hi
	}
	return v
}

func normalizePort(log *zap.Logger, key string, port int) int {
	if port < 1024 || port > 65535 {
		log.Warn("Port out of range, using default", zap.String("key", key), zap.Int("value", port), zap.Int("default", DefaultPort))
		return DefaultPort
	}
	return port
}
