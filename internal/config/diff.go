package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Log level, VAD and live-mode settings are applied without restart; changes
// anywhere else are listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VADChanged  bool
	LiveChanged bool

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VADChanged && !d.LiveChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.VADChanged = diffVAD(old.VAD, new.VAD)
	d.LiveChanged = old.Live != new.Live

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	restart := []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"backend", old.Backend, new.Backend},
		{"audio", old.Audio, new.Audio},
		{"summary", old.Summary, new.Summary},
		{"history", old.History, new.History},
		{"telemetry", old.Telemetry, new.Telemetry},
	}
	for _, s := range restart {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}

// diffVAD compares two VAD sections by value.
func diffVAD(old, new VADConfig) bool {
	if threshold(old) != threshold(new) {
		return true
	}
	old.SpeechThreshold, new.SpeechThreshold = nil, nil
	return old != new
}

func threshold(v VADConfig) float64 {
	if v.SpeechThreshold == nil {
		return DefaultSpeechThreshold
	}
	return *v.SpeechThreshold
}
