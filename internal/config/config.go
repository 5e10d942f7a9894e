package config

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
)

// gainClamp bounds an integer dB gain value, logging a warning and clamping
// rather than rejecting the config when a value is out of range.
func gainClamp(label string, value, min, max int32) int32 {
	if value < min {
		log.Printf("[config] %s = %d out of range [%d,%d], clamping to %d", label, value, min, max, min)
		return min
	}
	if value > max {
		log.Printf("[config] %s = %d out of range [%d,%d], clamping to %d", label, value, min, max, max)
		return max
	}
	return value
}

// Config represents the transcoder's configuration.
type Config struct {
	filename string

	// Transcoder section
	modules            []byte
	dStarGainIn        int32
	dStarGainOut       int32
	dmrYsfGainIn       int32
	dmrYsfGainOut      int32
	usrpTxGain         int32
	usrpRxGain         int32
	deviceClass        uint32
	dStarDevicePath    string
	dmrDevicePath      string
	reflectorSocketDir string

	// Diagnostics section
	diagnosticsEnabled   bool
	diagnosticsPath      string
	diagnosticsRetention uint32
}

// NewConfig creates a configuration instance seeded with the defaults the
// transcoder runs with when a key is absent from the file.
func NewConfig(filename string) *Config {
	return &Config{
		filename: filename,

		deviceClass:        3003,
		reflectorSocketDir: "/tmp/xlx",

		diagnosticsEnabled:   true,
		diagnosticsPath:      "data/diagnostics.db",
		diagnosticsRetention: 72,
	}
}

// Load loads configuration from the file named at construction.
func (c *Config) Load() error {
	file, err := os.Open(c.filename)
	if err != nil {
		return fmt.Errorf("failed to open config file %s: %v", c.filename, err)
	}
	defer file.Close()

	return c.parseINI(file)
}

// LoadFromString loads configuration from a string (useful for testing).
func (c *Config) LoadFromString(data string) error {
	return c.parseINIString(data)
}

func (c *Config) parseINI(file *os.File) error {
	scanner := bufio.NewScanner(file)
	return c.parseINIScanner(scanner)
}

func (c *Config) parseINIString(data string) error {
	scanner := bufio.NewScanner(strings.NewReader(data))
	return c.parseINIScanner(scanner)
}

func (c *Config) parseINIScanner(scanner *bufio.Scanner) error {
	var currentSection string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments.
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		// Section header.
		if line[0] == '[' && line[len(line)-1] == ']' {
			currentSection = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}

		// Every key = value line is parsed regardless of how many keys this
		// section has already seen.
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch currentSection {
		case "Transcoder":
			c.parseTranscoderSection(key, value)
		case "Diagnostics":
			c.parseDiagnosticsSection(key, value)
		}
	}

	c.applyGainClamps()
	return scanner.Err()
}

func (c *Config) parseTranscoderSection(key, value string) {
	switch key {
	case "Modules", "Transcoded":
		c.modules = c.parseModuleLetters(value)
	case "DStarGainIn":
		c.dStarGainIn = c.parseInt32(value)
	case "DStarGainOut":
		c.dStarGainOut = c.parseInt32(value)
	case "DmrYsfGainIn":
		c.dmrYsfGainIn = c.parseInt32(value)
	case "DmrYsfGainOut":
		c.dmrYsfGainOut = c.parseInt32(value)
	case "UsrpTxGain":
		c.usrpTxGain = c.parseInt32(value)
	case "UsrpRxGain":
		c.usrpRxGain = c.parseInt32(value)
	case "DeviceClass":
		if v, err := strconv.ParseUint(value, 10, 32); err == nil {
			c.deviceClass = uint32(v)
		}
	case "DStarDevicePath":
		c.dStarDevicePath = value
	case "DmrDevicePath":
		c.dmrDevicePath = value
	case "ReflectorSocketDir":
		c.reflectorSocketDir = value
	}
}

func (c *Config) parseDiagnosticsSection(key, value string) {
	switch key {
	case "Enabled":
		c.diagnosticsEnabled = c.parseBool(value)
	case "Path":
		c.diagnosticsPath = value
	case "RetentionHours":
		if v, err := strconv.ParseUint(value, 10, 32); err == nil {
			c.diagnosticsRetention = uint32(v)
		}
	}
}

// applyGainClamps re-clamps every configured gain to its device-class
// range. DStar/DmrYsf gains clamp to [-36,36] on a 3000-class device and
// [-24,24] on a 3003-class device; USRP gains always clamp to [-36,36].
func (c *Config) applyGainClamps() {
	voiceMin, voiceMax := int32(-36), int32(36)
	if c.deviceClass == 3003 {
		voiceMin, voiceMax = -24, 24
	}
	c.dStarGainIn = gainClamp("DStarGainIn", c.dStarGainIn, voiceMin, voiceMax)
	c.dStarGainOut = gainClamp("DStarGainOut", c.dStarGainOut, voiceMin, voiceMax)
	c.dmrYsfGainIn = gainClamp("DmrYsfGainIn", c.dmrYsfGainIn, voiceMin, voiceMax)
	c.dmrYsfGainOut = gainClamp("DmrYsfGainOut", c.dmrYsfGainOut, voiceMin, voiceMax)
	c.usrpTxGain = gainClamp("UsrpTxGain", c.usrpTxGain, -36, 36)
	c.usrpRxGain = gainClamp("UsrpRxGain", c.usrpRxGain, -36, 36)
}

func (c *Config) parseBool(value string) bool {
	return value == "1" || strings.ToLower(value) == "true" || strings.ToLower(value) == "yes"
}

func (c *Config) parseInt32(value string) int32 {
	v, err := strconv.ParseInt(value, 10, 32)
	if err != nil {
		return 0
	}
	return int32(v)
}

// parseModuleLetters folds the configured module string down to its
// distinct letters: non-alphanumeric characters ignored, lowercase folded
// to uppercase, duplicates removed, input order preserved.
func (c *Config) parseModuleLetters(value string) []byte {
	seen := make(map[byte]bool, len(value))
	letters := make([]byte, 0, len(value))
	for i := 0; i < len(value); i++ {
		ch := value[i]
		switch {
		case ch >= 'a' && ch <= 'z':
			ch -= 'a' - 'A'
		case ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
			// already alphanumeric
		default:
			continue
		}
		if seen[ch] {
			continue
		}
		seen[ch] = true
		letters = append(letters, ch)
	}
	return letters
}

// Getter methods for the Transcoder section.
func (c *Config) GetModules() []byte            { return c.modules }
func (c *Config) GetDStarGainIn() int32         { return c.dStarGainIn }
func (c *Config) GetDStarGainOut() int32        { return c.dStarGainOut }
func (c *Config) GetDmrYsfGainIn() int32        { return c.dmrYsfGainIn }
func (c *Config) GetDmrYsfGainOut() int32       { return c.dmrYsfGainOut }
func (c *Config) GetUsrpTxGain() int32          { return c.usrpTxGain }
func (c *Config) GetUsrpRxGain() int32          { return c.usrpRxGain }
func (c *Config) GetDeviceClass() uint32        { return c.deviceClass }
func (c *Config) GetDStarDevicePath() string    { return c.dStarDevicePath }
func (c *Config) GetDmrDevicePath() string      { return c.dmrDevicePath }
func (c *Config) GetReflectorSocketDir() string { return c.reflectorSocketDir }

// Validate checks the configuration errors that are fatal before start: an
// empty module list, or a module list longer than the configured device
// class's channel count (3 for a 3003-class device, 1 for a 3000-class
// device).
func (c *Config) Validate() error {
	if len(c.modules) == 0 {
		return fmt.Errorf("config: no modules configured (Modules/Transcoded is empty)")
	}
	maxModules := 3
	if c.deviceClass != 3003 {
		maxModules = 1
	}
	if len(c.modules) > maxModules {
		return fmt.Errorf("config: %d modules configured, but a %d-class device supports at most %d", len(c.modules), c.deviceClass, maxModules)
	}
	return nil
}

// Getter methods for the Diagnostics section.
func (c *Config) GetDiagnosticsEnabled() bool   { return c.diagnosticsEnabled }
func (c *Config) GetDiagnosticsPath() string    { return c.diagnosticsPath }
func (c *Config) GetDiagnosticsRetention() uint32 { return c.diagnosticsRetention }
