package deck

import (
	"path/filepath"

	"github.com/controldeck/controldeck/internal/hidsvc"
	"github.com/controldeck/controldeck/internal/statesvc"
)

// Config carries the filesystem paths handed in by the CLI. Everything
// else lives in the watched YAML files.
type Config struct {
	DataDir     string
	HostConfig  string
	RelayConfig string
}

// MIDIConfig controls the Launch Control XL listener.
type MIDIConfig struct {
	Disabled  bool   `yaml:"disabled" json:"disabled"`
	PortMatch string `yaml:"portMatch" json:"portMatch"`
}

// HostConfig is the host.yml schema.
type HostConfig struct {
	RelayURL         string     `yaml:"relayUrl" json:"relayUrl"`
	DialpadLayout    string     `yaml:"dialpadLayout" json:"dialpadLayout"`
	QueueSize        int        `yaml:"queueSize" json:"queueSize"`
	ReconnectSeconds int        `yaml:"reconnectSeconds" json:"reconnectSeconds"`
	MIDI             MIDIConfig `yaml:"midi" json:"midi"`
}

func DefaultHostConfig() HostConfig {
	return HostConfig{
		RelayURL:         "ws://localhost:8765/bridge",
		DialpadLayout:    hidsvc.LayoutGeneric,
		QueueSize:        4096,
		ReconnectSeconds: 2,
		MIDI: MIDIConfig{
			PortMatch: "Launch Control XL",
		},
	}
}

// RelayConfig is the relay.yml schema.
type RelayConfig struct {
	ListenAddr   string `yaml:"listenAddr" json:"listenAddr"`
	StateFile    string `yaml:"stateFile" json:"stateFile"`
	CommandFile  string `yaml:"commandFile" json:"commandFile"`
	PositionFile string `yaml:"positionFile" json:"positionFile"`
}

func DefaultRelayConfig() RelayConfig {
	dir := statesvc.DefaultStateDir()
	return RelayConfig{
		ListenAddr:   ":8765",
		StateFile:    filepath.Join(dir, "controldeck_state.json"),
		CommandFile:  filepath.Join(dir, "controldeck_command.json"),
		PositionFile: filepath.Join(dir, "controldeck_position.json"),
	}
}
