package devices

import "github.com/nerrad567/tinkerforge2mqtt/internal/infrastructure/config"

// FixturesFromConfig converts the configured DMX patch.
func FixturesFromConfig(cfg config.DMXConfig) []Fixture {
	fixtures := make([]Fixture, 0, len(cfg.Fixtures))
	for _, f := range cfg.Fixtures {
		fixtures = append(fixtures, Fixture{Name: f.Name, Start: f.Start, Width: f.Width})
	}
	return fixtures
}

// RegisterDefaults registers a factory for every device type the bridge
// supports.
func RegisterDefaults(r *Registry, fixtures []Fixture) error {
	factories := map[uint16]Factory{
		IdentifierESP32:     NewESP32Handler,
		IdentifierDMX:       NewDMXFactory(fixtures),
		IdentifierLCD128x64: NewLCDHandler,
	}
	for id, f := range factories {
		if err := r.Register(id, f); err != nil {
			return err
		}
	}
	return nil
}
