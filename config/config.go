// Package config loads the bounds and defaults the rest of the module
// treats as implementation-defined (spec §6): NAME_MAX, VEC_MAX, FD_MAX,
// and the default pool page size. It follows the teacher's own config
// layer in spirit (cfg.MempoolConfig read by viper-populated structs),
// reading TOML with github.com/spf13/viper and writing it with
// github.com/BurntSushi/toml.
package config

import (
	"bytes"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// Config holds the bus1 implementation-defined bounds from spec §6.
type Config struct {
	// NameMax is the maximum length, in bytes including the trailing NUL,
	// of a single peer name.
	NameMax int `mapstructure:"name_max"`
	// VecMax is the maximum number of vectors a single SEND may carry.
	VecMax int `mapstructure:"vec_max"`
	// FDMax is the maximum number of file descriptors a single SEND may
	// carry.
	FDMax int `mapstructure:"fd_max"`
	// PageSize is the platform page size pool_size must be a multiple of.
	PageSize int `mapstructure:"page_size"`
}

// Default returns the bounds used when no configuration file is supplied.
func Default() Config {
	return Config{
		NameMax:  256,
		VecMax:   1024,
		FDMax:    256,
		PageSize: 4096,
	}
}

// Load reads a TOML configuration document and overlays it onto Default().
func Load(tomlDoc []byte) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("toml")
	if err := v.ReadConfig(bytes.NewReader(tomlDoc)); err != nil {
		return cfg, err
	}

	v.SetDefault("name_max", cfg.NameMax)
	v.SetDefault("vec_max", cfg.VecMax)
	v.SetDefault("fd_max", cfg.FDMax)
	v.SetDefault("page_size", cfg.PageSize)

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Marshal renders cfg to a TOML document with github.com/BurntSushi/toml.
// Keys are the Go field names (NameMax, VecMax, FDMax, PageSize), not the
// snake_case keys Load reads.
func Marshal(cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
