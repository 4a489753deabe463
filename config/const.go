package config

import "time"

// AppVersion is the version of the service.
var AppVersion string // set from the build version by cmd/tabspice

// AppName is the name of the service.
const AppName = "TabSpice"

// LogWinSubDir is the sub directory for the log files on windows.
var LogWinSubDir = AppName

// LogExt is the extension for the log files.
var LogExt = ".log"

// Config file and schema
const (
	ConfigFileName = "config.yaml" // ConfigFileName is the name of the YAML config file under the app directory
	StoreFileName  = "tabspice.db" // StoreFileName is the default sqlite store file name
	SchemaVersion  = "v2.0.0"      // SchemaVersion is the current config schema version
	legacySchema   = "v1.0.0"      // legacySchema is assumed for documents without a schema field
	DefaultWeight  = 10            // DefaultWeight is used when a provider entry omits its weight
	LegacyAdapter  = "randomPicV1" // LegacyAdapter is the adapter type assigned to migrated legacy api entries
	DefaultBingURL = "https://cn.bing.com"
)

// Defaults for the background daemon
const (
	DefaultRelayAddr    = "127.0.0.1:49452"
	DefaultRefreshEvery = 30 * time.Minute
)
