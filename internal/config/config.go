package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/BioHazard786/huddle/internal/protocol"
)

// Default configuration values
const (
	DefaultAddr            = ":8080"
	DefaultMaxParticipants = 2
	DefaultServer          = "ws://localhost:8080"
	DefaultSTUN            = "stun:stun.l.google.com:19302"

	DefaultReconnectBase        = 1 * time.Second
	DefaultReconnectCap         = 10 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultHeartbeatInterval    = 25 * time.Second
	DefaultPongGrace            = 10 * time.Second
	DefaultQueueSize            = 64
)

// LoadEnvFile loads variables from a .env file into the environment without
// overriding ones already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ServerConfig holds room server configuration
type ServerConfig struct {
	Addr            string
	MaxParticipants int
	// AllowedOrigins is empty when every origin is accepted.
	AllowedOrigins []string
}

// ServerOptions for loading server config with CLI flag overrides
type ServerOptions struct {
	Addr            string
	MaxParticipants int
	AllowedOrigins  string
}

// LoadServer reads server configuration with the following priority:
// 1. CLI flags (passed via ServerOptions) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func LoadServer(opts ServerOptions) (*ServerConfig, error) {
	maxParticipants, err := intSetting(opts.MaxParticipants, "HUDDLE_MAX_PARTICIPANTS", DefaultMaxParticipants)
	if err != nil {
		return nil, err
	}
	if maxParticipants < 1 {
		return nil, fmt.Errorf("max participants must be at least 1, got %d", maxParticipants)
	}

	return &ServerConfig{
		Addr:            stringSetting(opts.Addr, "HUDDLE_ADDR", DefaultAddr),
		MaxParticipants: maxParticipants,
		AllowedOrigins:  splitList(stringSetting(opts.AllowedOrigins, "HUDDLE_ALLOWED_ORIGINS", "")),
	}, nil
}

// ClientConfig holds configuration for joining a room
type ClientConfig struct {
	// ServerURL is the websocket base URL of the room server.
	ServerURL string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	ReconnectBase        time.Duration
	ReconnectCap         time.Duration
	MaxReconnectAttempts int
	HeartbeatInterval    time.Duration
	PongGrace            time.Duration
	QueueSize            int
}

// ClientOptions for loading client config with CLI flag overrides
type ClientOptions struct {
	Server     string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
}

// LoadClient reads client configuration with the same priority as LoadServer.
// Timing knobs have no flags and come from the environment or defaults.
func LoadClient(opts ClientOptions) (*ClientConfig, error) {
	cfg := &ClientConfig{
		ServerURL:  stringSetting(opts.Server, "HUDDLE_SERVER", DefaultServer),
		STUNServer: stringSetting(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer: stringSetting(opts.TURNServer, "TURN_SERVER", ""),
		TURNUser:   stringSetting(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:   stringSetting(opts.TURNPass, "TURN_PASSWORD", ""),
		ForceRelay: opts.ForceRelay,
	}
	if !cfg.ForceRelay {
		force, err := boolEnv("HUDDLE_FORCE_RELAY")
		if err != nil {
			return nil, err
		}
		cfg.ForceRelay = force
	}

	var err error
	durations := []struct {
		dst *time.Duration
		env string
		def time.Duration
	}{
		{&cfg.ReconnectBase, "HUDDLE_RECONNECT_BASE", DefaultReconnectBase},
		{&cfg.ReconnectCap, "HUDDLE_RECONNECT_CAP", DefaultReconnectCap},
		{&cfg.HeartbeatInterval, "HUDDLE_HEARTBEAT_INTERVAL", DefaultHeartbeatInterval},
		{&cfg.PongGrace, "HUDDLE_PONG_GRACE", DefaultPongGrace},
	}
	for _, d := range durations {
		if *d.dst, err = durationEnv(d.env, d.def); err != nil {
			return nil, err
		}
	}
	if cfg.MaxReconnectAttempts, err = intSetting(0, "HUDDLE_MAX_RECONNECT_ATTEMPTS", DefaultMaxReconnectAttempts); err != nil {
		return nil, err
	}
	if cfg.QueueSize, err = intSetting(0, "HUDDLE_QUEUE_SIZE", DefaultQueueSize); err != nil {
		return nil, err
	}
	if cfg.ReconnectCap < cfg.ReconnectBase {
		return nil, fmt.Errorf("reconnect cap %s is below base %s", cfg.ReconnectCap, cfg.ReconnectBase)
	}

	if _, err := cfg.RoomURL("lobby"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RoomURL returns the websocket URL of a room on the configured server.
func (c *ClientConfig) RoomURL(roomID string) (string, error) {
	if err := protocol.ValidateRoomID(roomID); err != nil {
		return "", fmt.Errorf("room %q: %w", roomID, err)
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", c.ServerURL, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server url %q: scheme must be ws, wss, http or https", c.ServerURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server url %q: missing host", c.ServerURL)
	}
	return u.JoinPath("ws", roomID).String(), nil
}

// GetSTUNServers returns STUN server URLs as strings
func (c *ClientConfig) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured. An explicit port
// replaces the default 3478 for plain TURN; TLS stays on 5349.
func (c *ClientConfig) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host, port := splitTURNServer(c.TURNServer)
	return []string{
		fmt.Sprintf("turn:%s?transport=udp", net.JoinHostPort(host, port)),
		fmt.Sprintf("turn:%s?transport=tcp", net.JoinHostPort(host, port)),
		fmt.Sprintf("turns:%s?transport=tcp", net.JoinHostPort(host, "5349")),
	}
}

func splitTURNServer(s string) (host, port string) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "turns:"), "turn:")
	s, _, _ = strings.Cut(s, "?")
	if h, p, err := net.SplitHostPort(s); err == nil && p != "" {
		return h, p
	}
	return strings.Trim(s, "[]"), "3478"
}

// GetTURNCredentials returns TURN username and password
func (c *ClientConfig) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

func stringSetting(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func intSetting(flag int, env string, def int) (int, error) {
	if flag != 0 {
		return flag, nil
	}
	v := os.Getenv(env)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", env, err)
	}
	return n, nil
}

func durationEnv(env string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(env)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", env, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", env, d)
	}
	return d, nil
}

func boolEnv(env string) (bool, error) {
	v := os.Getenv(env)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", env, err)
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
