package config

type RawVirtualDisplay struct {
	Name    *string `yaml:"name"`
	Width   *int    `yaml:"width"`
	Height  *int    `yaml:"height"`
	DPI     *int    `yaml:"dpi"`
	Command *string `yaml:"command"`
}

type RawLoggingConfig struct {
	Level       *string `yaml:"level"`
	Development *bool   `yaml:"development"`
}

// RawConfig mirrors the YAML file. Unset scalars are nil so defaults can be
// told apart from explicit zero values.
type RawConfig struct {
	Backend         *string            `yaml:"backend"`
	Display         *string            `yaml:"display"`
	XAuthority      *string            `yaml:"xauthority"`
	Package         *string            `yaml:"package"`
	Activities      []Activity         `yaml:"activities"`
	CycleKey        *string            `yaml:"cycle_key"`
	PassthroughKeys []string           `yaml:"passthrough_keys"`
	OccupantZones   []OccupantZone     `yaml:"occupant_zones"`
	VirtualDisplay  *RawVirtualDisplay `yaml:"virtual_display"`
	AssumeUnlocked  *bool              `yaml:"assume_unlocked"`
	InitialUIType   *int               `yaml:"initial_ui_type"`
	Logging         *RawLoggingConfig  `yaml:"logging"`
	MetricsAddr     *string            `yaml:"metrics_addr"`
}
