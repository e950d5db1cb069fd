// Package config loads, normalizes, and validates gridlink configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// GRIDLINK_DAEMON_ADDRESS. A .env file in the working directory is read
// before the environment fallbacks are applied.
//
// Always obtain settings through this package so downstream code receives
// expanded socket paths, positive retry budgets, and clear validation errors.
package config
