package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

// Default configuration values
const (
	DefaultServerURL = "http://localhost:8080"
	DefaultSTUN      = "stun:stun.l.google.com:19302"
	DefaultTURN      = "" // Optional, empty by default
	DefaultTURNUser  = ""
	DefaultTURNPass  = ""
)

// ErrInvalidServerURL is returned when the server URL cannot be turned into
// a websocket endpoint.
var ErrInvalidServerURL = errors.New("invalid server URL")

// Config holds client configuration
type Config struct {
	// ServerURL is the http(s) base of the signaling server
	ServerURL string

	// WebSocketURL is derived from ServerURL
	WebSocketURL string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// Identity presented to the meeting
	UserID      string
	DisplayName string

	// Optional media files (IVF/VP8 and Ogg/Opus) used as capture devices
	VideoFile string
	AudioFile string
}

// Options for loading config with CLI flag overrides
type Options struct {
	ConfigFile  string
	ServerURL   string
	STUNServer  string
	TURNServer  string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool
	UserID      string
	DisplayName string
	VideoFile   string
	AudioFile   string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Config file (meshcall.yaml/.toml/.json)
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	v := viper.New()

	v.SetDefault("server_url", DefaultServerURL)
	v.SetDefault("stun_server", DefaultSTUN)
	v.SetDefault("turn_server", DefaultTURN)
	v.SetDefault("turn_username", DefaultTURNUser)
	v.SetDefault("turn_password", DefaultTURNPass)
	v.SetDefault("force_relay", false)

	bindEnv(v, map[string]string{
		"server_url":    "SERVER_URL",
		"stun_server":   "STUN_SERVER",
		"turn_server":   "TURN_SERVER",
		"turn_username": "TURN_USERNAME",
		"turn_password": "TURN_PASSWORD",
		"force_relay":   "FORCE_RELAY",
		"user_id":       "MESHCALL_USER",
		"display_name":  "MESHCALL_NAME",
		"video_file":    "MESHCALL_VIDEO",
		"audio_file":    "MESHCALL_AUDIO",
	})

	if err := readConfigFile(v, opts.ConfigFile, "meshcall"); err != nil {
		return nil, err
	}

	override(v, "server_url", opts.ServerURL)
	override(v, "stun_server", opts.STUNServer)
	override(v, "turn_server", opts.TURNServer)
	override(v, "turn_username", opts.TURNUser)
	override(v, "turn_password", opts.TURNPass)
	override(v, "user_id", opts.UserID)
	override(v, "display_name", opts.DisplayName)
	override(v, "video_file", opts.VideoFile)
	override(v, "audio_file", opts.AudioFile)
	if opts.ForceRelay {
		v.Set("force_relay", true)
	}

	serverURL := strings.TrimSuffix(v.GetString("server_url"), "/")
	wsURL, err := websocketURL(serverURL)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ServerURL:    serverURL,
		WebSocketURL: wsURL,
		STUNServer:   v.GetString("stun_server"),
		TURNServer:   v.GetString("turn_server"),
		TURNUser:     v.GetString("turn_username"),
		TURNPass:     v.GetString("turn_password"),
		ForceRelay:   v.GetBool("force_relay"),
		UserID:       v.GetString("user_id"),
		DisplayName:  v.GetString("display_name"),
		VideoFile:    v.GetString("video_file"),
		AudioFile:    v.GetString("audio_file"),
	}

	if cfg.DisplayName == "" {
		cfg.DisplayName = cfg.UserID
	}

	return cfg, nil
}

// websocketURL maps http(s)://host/base to ws(s)://host/base/ws.
func websocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidServerURL, err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidServerURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidServerURL)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

// ConferenceURL returns the organizer endpoint for action ("start"/"stop").
func (c *Config) ConferenceURL(action, meetingID string) string {
	return fmt.Sprintf("%s/conference/%s/%s", c.ServerURL, action, url.PathEscape(meetingID))
}

// MeetingsURL returns the meeting listing endpoint.
func (c *Config) MeetingsURL() string {
	return c.ServerURL + "/meetings"
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(c.TURNServer, "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

func bindEnv(v *viper.Viper, keys map[string]string) {
	for key, env := range keys {
		_ = v.BindEnv(key, env)
	}
}

func override(v *viper.Viper, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}

// readConfigFile loads an explicit file, or searches the usual locations for
// name.{yaml,toml,json}. A missing file is not an error unless it was named.
func readConfigFile(v *viper.Viper, explicit, name string) error {
	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", explicit, err)
		}
		return nil
	}

	v.SetConfigName(name)
	v.AddConfigPath("$HOME/.config/meshcall")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}
