package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// SetDefaults registers the scalar defaults on v so that keys missing from
// the file still decode to Defaults().
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("log.enabled", d.Log.Enabled)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.cache_ttl", d.Store.CacheTTL)
	v.SetDefault("watch.enabled", d.Watch.Enabled)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
	v.SetDefault("main.name", d.Main.Name)
	v.SetDefault("main.mix_audio", d.Main.MixAudio)
	v.SetDefault("main.video.base_width", d.Main.Video.BaseWidth)
	v.SetDefault("main.video.base_height", d.Main.Video.BaseHeight)
	v.SetDefault("main.video.output_width", d.Main.Video.OutputWidth)
	v.SetDefault("main.video.output_height", d.Main.Video.OutputHeight)
	v.SetDefault("main.video.fps_num", d.Main.Video.FPSNum)
	v.SetDefault("main.video.fps_den", d.Main.Video.FPSDen)
}

// Load reads and validates the config file at path.
func Load(path string) (Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}
