package config

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	gotwai "github.com/samsamfire/gotwai"
	"github.com/samsamfire/gotwai/pkg/driver"
	"github.com/samsamfire/gotwai/pkg/twai"
	"gopkg.in/ini.v1"
)

//go:embed default.ini
var rawDefault []byte

// Controller section
type Controller struct {
	Mode              twai.Mode
	Bitrate           uint32
	Timing            twai.Timing
	ErrorWarningLimit uint8
	Filter            twai.Filter
}

// Complete configuration of one controller and its driver
type Config struct {
	Controller Controller
	Twai       twai.Config
	Driver     driver.Config
}

// Bus timings for an 80 MHz source clock, sample point at 80%
var bitrateTimings = map[uint32]twai.Timing{
	25000:   {Brp: 128, Tseg1: 16, Tseg2: 8, Sjw: 3},
	50000:   {Brp: 80, Tseg1: 15, Tseg2: 4, Sjw: 3},
	100000:  {Brp: 40, Tseg1: 15, Tseg2: 4, Sjw: 3},
	125000:  {Brp: 32, Tseg1: 15, Tseg2: 4, Sjw: 3},
	250000:  {Brp: 16, Tseg1: 15, Tseg2: 4, Sjw: 3},
	500000:  {Brp: 8, Tseg1: 15, Tseg2: 4, Sjw: 3},
	800000:  {Brp: 4, Tseg1: 16, Tseg2: 8, Sjw: 3},
	1000000: {Brp: 4, Tseg1: 15, Tseg2: 4, Sjw: 3},
}

var modeNames = map[string]twai.Mode{
	"normal":      twai.ModeNormal,
	"no_ack":      twai.ModeNoAck,
	"listen_only": twai.ModeListenOnly,
}

// Bus timing for one of the supported bitrates
func TimingForBitrate(bitrate uint32) (twai.Timing, error) {
	timing, ok := bitrateTimings[bitrate]
	if !ok {
		return twai.Timing{}, fmt.Errorf("bitrate %v : %w", bitrate, gotwai.ErrIllegalBaudrate)
	}
	return timing, nil
}

// Return the embedded default configuration
func Default() *Config {
	cfg, err := Load(rawDefault)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load a configuration file
// file can be either a path or an io.Reader or []byte, as accepted by ini.Load.
// Missing keys take their default value.
func Load(file any) (*Config, error) {
	iniFile, err := ini.Load(rawDefault, file)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := cfg.parseController(iniFile.Section("controller")); err != nil {
		return nil, fmt.Errorf("[controller] %w", err)
	}
	if err := cfg.parseErrata(iniFile.Section("errata")); err != nil {
		return nil, fmt.Errorf("[errata] %w", err)
	}
	if err := cfg.parseDriver(iniFile.Section("driver")); err != nil {
		return nil, fmt.Errorf("[driver] %w", err)
	}
	return cfg, nil
}

func parseUint(section *ini.Section, key string, bitSize int) (uint64, error) {
	value, err := strconv.ParseUint(strings.TrimSpace(section.Key(key).Value()), 0, bitSize)
	if err != nil {
		return 0, fmt.Errorf("%v : %v : %w", key, err, gotwai.ErrIllegalArgument)
	}
	return value, nil
}

func parseBool(section *ini.Section, key string) (bool, error) {
	value, err := section.Key(key).Bool()
	if err != nil {
		return false, fmt.Errorf("%v : %v : %w", key, err, gotwai.ErrIllegalArgument)
	}
	return value, nil
}

func (cfg *Config) parseController(section *ini.Section) error {
	c := &cfg.Controller
	modeName := strings.ToLower(strings.TrimSpace(section.Key("mode").String()))
	mode, ok := modeNames[modeName]
	if !ok {
		return fmt.Errorf("mode %q : %w", modeName, gotwai.ErrIllegalArgument)
	}
	c.Mode = mode

	bitrate, err := parseUint(section, "bitrate", 32)
	if err != nil {
		return err
	}
	c.Bitrate = uint32(bitrate)
	c.Timing, err = TimingForBitrate(c.Bitrate)
	if err != nil {
		return err
	}
	ewl, err := parseUint(section, "error_warning_limit", 8)
	if err != nil {
		return err
	}
	c.ErrorWarningLimit = uint8(ewl)

	code, err := parseUint(section, "filter_code", 32)
	if err != nil {
		return err
	}
	mask, err := parseUint(section, "filter_mask", 32)
	if err != nil {
		return err
	}
	single, err := parseBool(section, "single_filter")
	if err != nil {
		return err
	}
	c.Filter = twai.Filter{Code: uint32(code), Mask: uint32(mask), SingleFilter: single}
	return nil
}

func (cfg *Config) parseErrata(section *ini.Section) error {
	switches := []struct {
		key   string
		value *bool
	}{
		{"tx_intr_lost", &cfg.Twai.Errata.TxIntrLost},
		{"rx_frame_invalid", &cfg.Twai.Errata.RxFrameInvalid},
		{"rx_fifo_corrupt", &cfg.Twai.Errata.RxFifoCorrupt},
		{"bus_off_rec", &cfg.Twai.Errata.BusOffRec},
	}
	for _, s := range switches {
		value, err := parseBool(section, s.key)
		if err != nil {
			return err
		}
		*s.value = value
	}
	threshold, err := parseUint(section, "rx_fifo_threshold", 8)
	if err != nil {
		return err
	}
	if threshold > twai.RxFifoDepth {
		return fmt.Errorf("rx_fifo_threshold %v : %w", threshold, gotwai.ErrIllegalArgument)
	}
	cfg.Twai.RxFifoCorruptThreshold = uint8(threshold)
	return nil
}

func (cfg *Config) parseDriver(section *ini.Section) error {
	txLen, err := section.Key("tx_queue_len").Int()
	if err != nil || txLen < 0 {
		return fmt.Errorf("tx_queue_len : %w", gotwai.ErrIllegalArgument)
	}
	rxLen, err := section.Key("rx_queue_len").Int()
	if err != nil || rxLen <= 0 {
		return fmt.Errorf("rx_queue_len : %w", gotwai.ErrIllegalArgument)
	}
	alerts, err := driver.ParseAlerts(section.Key("alerts").String())
	if err != nil {
		return err
	}
	cfg.Driver = driver.Config{
		Mode:       cfg.Controller.Mode,
		TxQueueLen: txLen,
		RxQueueLen: rxLen,
		Alerts:     alerts,
	}
	return nil
}

// Apply timing, filter and error warning limit to a stopped controller
func (c Controller) Apply(ctrl *twai.Controller) error {
	return ctrl.Configure(c.Timing, c.Filter, c.ErrorWarningLimit)
}
