package config

import "testing"

func TestLoadFromStringParsesTranscoderSection(t *testing.T) {
	c := NewConfig("")
	data := `
# sample config
[Transcoder]
Modules = ABC
DStarGainIn = 10
DStarGainOut = -5
DmrYsfGainIn = 3
DmrYsfGainOut = -3
UsrpTxGain = 6
UsrpRxGain = -6
DeviceClass = 3003
DStarDevicePath = /dev/ttyUSB0
DmrDevicePath = /dev/ttyUSB1
ReflectorSocketDir = /tmp/xlx

[Diagnostics]
Enabled = true
Path = /var/lib/transcoder/diag.db
RetentionHours = 48
`
	if err := c.LoadFromString(data); err != nil {
		t.Fatalf("LoadFromString() error = %v", err)
	}

	if string(c.GetModules()) != "ABC" {
		t.Fatalf("GetModules() = %q, want ABC", c.GetModules())
	}
	if c.GetDStarGainIn() != 10 {
		t.Fatalf("GetDStarGainIn() = %d, want 10", c.GetDStarGainIn())
	}
	if c.GetDStarGainOut() != -5 {
		t.Fatalf("GetDStarGainOut() = %d, want -5", c.GetDStarGainOut())
	}
	if c.GetDeviceClass() != 3003 {
		t.Fatalf("GetDeviceClass() = %d, want 3003", c.GetDeviceClass())
	}
	if c.GetDStarDevicePath() != "/dev/ttyUSB0" {
		t.Fatalf("GetDStarDevicePath() = %q, want /dev/ttyUSB0", c.GetDStarDevicePath())
	}
	if c.GetReflectorSocketDir() != "/tmp/xlx" {
		t.Fatalf("GetReflectorSocketDir() = %q, want /tmp/xlx", c.GetReflectorSocketDir())
	}
	if !c.GetDiagnosticsEnabled() {
		t.Fatalf("GetDiagnosticsEnabled() = false, want true")
	}
	if c.GetDiagnosticsRetention() != 48 {
		t.Fatalf("GetDiagnosticsRetention() = %d, want 48", c.GetDiagnosticsRetention())
	}
}

func TestGainClampsToDeviceClassRange(t *testing.T) {
	c := NewConfig("")
	data := `
[Transcoder]
DeviceClass = 3003
DStarGainIn = 40
UsrpTxGain = 40
`
	if err := c.LoadFromString(data); err != nil {
		t.Fatalf("LoadFromString() error = %v", err)
	}
	if c.GetDStarGainIn() != 24 {
		t.Fatalf("GetDStarGainIn() = %d, want clamped to 24 for a 3003-class device", c.GetDStarGainIn())
	}
	if c.GetUsrpTxGain() != 36 {
		t.Fatalf("GetUsrpTxGain() = %d, want clamped to 36 (USRP range is always [-36,36])", c.GetUsrpTxGain())
	}
}

func TestGainClampsFor3000Class(t *testing.T) {
	c := NewConfig("")
	data := `
[Transcoder]
DeviceClass = 3000
DStarGainIn = 40
DStarGainOut = -40
`
	if err := c.LoadFromString(data); err != nil {
		t.Fatalf("LoadFromString() error = %v", err)
	}
	if c.GetDStarGainIn() != 36 {
		t.Fatalf("GetDStarGainIn() = %d, want clamped to 36 for a 3000-class device", c.GetDStarGainIn())
	}
	if c.GetDStarGainOut() != -36 {
		t.Fatalf("GetDStarGainOut() = %d, want clamped to -36", c.GetDStarGainOut())
	}
}

func TestParseIgnoresCommentsAndBlankLines(t *testing.T) {
	c := NewConfig("")
	data := "\n# a comment\n\n[Transcoder]\n# another comment\nModules = A\n"
	if err := c.LoadFromString(data); err != nil {
		t.Fatalf("LoadFromString() error = %v", err)
	}
	if string(c.GetModules()) != "A" {
		t.Fatalf("GetModules() = %q, want A", c.GetModules())
	}
}

func TestParseModuleLettersFoldsDedupsAndIgnoresNonAlnum(t *testing.T) {
	c := NewConfig("")
	data := "[Transcoder]\nModules = a,b-B c!!C\n"
	if err := c.LoadFromString(data); err != nil {
		t.Fatalf("LoadFromString() error = %v", err)
	}
	if string(c.GetModules()) != "ABC" {
		t.Fatalf("GetModules() = %q, want ABC (folded, deduped, non-alnum dropped)", c.GetModules())
	}
}

func TestValidateRejectsEmptyModules(t *testing.T) {
	c := NewConfig("")
	if err := c.LoadFromString("[Transcoder]\nDeviceClass = 3003\n"); err != nil {
		t.Fatalf("LoadFromString() error = %v", err)
	}
	if err := c.Validate(); err == nil {
		t.Fatalf("Validate() error = nil, want error for an empty module list")
	}
}

func TestValidateRejectsTooManyModulesFor3000Class(t *testing.T) {
	c := NewConfig("")
	if err := c.LoadFromString("[Transcoder]\nDeviceClass = 3000\nModules = AB\n"); err != nil {
		t.Fatalf("LoadFromString() error = %v", err)
	}
	if err := c.Validate(); err == nil {
		t.Fatalf("Validate() error = nil, want error: a 3000-class device supports only 1 module")
	}
}

func TestValidateAcceptsThreeModulesFor3003Class(t *testing.T) {
	c := NewConfig("")
	if err := c.LoadFromString("[Transcoder]\nDeviceClass = 3003\nModules = ABC\n"); err != nil {
		t.Fatalf("LoadFromString() error = %v", err)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() error = %v, want nil for 3 modules on a 3003-class device", err)
	}
}

func TestDefaultsAppliedWhenKeyAbsent(t *testing.T) {
	c := NewConfig("")
	if err := c.LoadFromString("[Transcoder]\n"); err != nil {
		t.Fatalf("LoadFromString() error = %v", err)
	}
	if c.GetDeviceClass() != 3003 {
		t.Fatalf("GetDeviceClass() default = %d, want 3003", c.GetDeviceClass())
	}
	if c.GetReflectorSocketDir() != "/tmp/xlx" {
		t.Fatalf("GetReflectorSocketDir() default = %q, want /tmp/xlx", c.GetReflectorSocketDir())
	}
	if !c.GetDiagnosticsEnabled() {
		t.Fatalf("GetDiagnosticsEnabled() default = false, want true")
	}
}
