// Package config loads and saves the ax configuration file, which holds named
// contexts (tenant, client ID, scope, API server) and CLI-wide settings.
package config
