package config

import (
	"os"
	"path/filepath"
	"strings"
)

const appEnvVar = "APP_ENV"

const (
	EnvironmentDevelopment = "development"
	EnvironmentStaging     = "staging"
	EnvironmentProduction  = "production"
)

var environmentAliases = map[string]string{
	"dev":   EnvironmentDevelopment,
	"local": EnvironmentDevelopment,
	"prod":  EnvironmentProduction,
	"stag":  EnvironmentStaging,
	"stage": EnvironmentStaging,
}

// AppEnvironment reads APP_ENV, resolves known aliases and defaults to
// development.
func AppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	if env == "" {
		return EnvironmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// IsProductionLike reports whether env trades real funds.
func IsProductionLike(env string) bool {
	switch env {
	case EnvironmentProduction, EnvironmentStaging:
		return true
	default:
		return false
	}
}

// ResolvePath picks config/config.<env>.yml over the default path when that
// file exists and the caller did not point somewhere else.
func ResolvePath(path, defaultPath string) string {
	if path == "" {
		path = defaultPath
	}
	if path != defaultPath {
		return path
	}

	env := AppEnvironment()
	ext := filepath.Ext(defaultPath)
	candidate := strings.TrimSuffix(defaultPath, ext) + "." + env + ext
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return path
}
