// Package config loads engine configuration from environment variables.
//
// Struct fields are tagged with `env:"NAME"` (and optional envDefault) and
// parsed via caarlos0/env. A .env file is loaded once per process if
// present, so local development does not need exported shell variables.
package config
