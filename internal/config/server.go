package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

const DefaultListenAddr = ":8080"

// ServerConfig holds signaling server configuration.
type ServerConfig struct {
	// Addr is the HTTP listen address.
	Addr string

	// DataDir holds the badger meeting store. Empty keeps meetings in memory.
	DataDir string

	// MeetingsFile is an optional TOML seed of known meetings.
	MeetingsFile string
}

type ServerOptions struct {
	ConfigFile   string
	Addr         string
	DataDir      string
	MeetingsFile string
}

// MeetingSeed is one [[meeting]] entry of the seed file.
type MeetingSeed struct {
	ID        string `toml:"id"`
	Title     string `toml:"title"`
	Organizer string `toml:"organizer"`
}

type seedFile struct {
	Meetings []MeetingSeed `toml:"meeting"`
}

// LoadServer layers flags over MESHCALL_* environment over defaults.
func LoadServer(opts ServerOptions) (*ServerConfig, error) {
	v := viper.New()
	v.SetDefault("addr", DefaultListenAddr)

	bindEnv(v, map[string]string{
		"addr":          "MESHCALL_ADDR",
		"data_dir":      "MESHCALL_DATA_DIR",
		"meetings_file": "MESHCALL_MEETINGS",
	})

	if err := readConfigFile(v, opts.ConfigFile, "meshcall-server"); err != nil {
		return nil, err
	}

	override(v, "addr", opts.Addr)
	override(v, "data_dir", opts.DataDir)
	override(v, "meetings_file", opts.MeetingsFile)

	return &ServerConfig{
		Addr:         v.GetString("addr"),
		DataDir:      v.GetString("data_dir"),
		MeetingsFile: v.GetString("meetings_file"),
	}, nil
}

// LoadMeetingSeeds parses the seed file. An empty path yields no seeds.
func LoadMeetingSeeds(path string) ([]MeetingSeed, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read meetings file: %w", err)
	}

	var f seedFile
	if _, err := toml.Decode(string(data), &f); err != nil {
		return nil, fmt.Errorf("parse meetings file %s: %w", path, err)
	}

	for i, m := range f.Meetings {
		if m.ID == "" || m.Organizer == "" {
			return nil, fmt.Errorf("meetings file %s: entry %d needs id and organizer", path, i+1)
		}
	}

	return f.Meetings, nil
}
