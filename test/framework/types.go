package framework

import (
	"github.com/cuemby/keepwarm/pkg/types"
)

// ServiceConfig defines a keepwarm process under test
type ServiceConfig struct {
	// Binary is the path to the keepwarm binary
	Binary string
	// DataDir holds the generated config file and the bolt database
	DataDir string
	// Addr is the control surface listen address (host:port)
	Addr string
	// Backend is the lock store backend (bolt, memory, redis)
	Backend string
	// RedisURL is required when Backend is redis
	RedisURL string
	// Apps is the roster written to the config file
	Apps []types.AppConfig
	// LogLevel sets the logging level of the process
	LogLevel string
	// KeepOnFailure keeps the data directory if tests fail (for debugging)
	KeepOnFailure bool
}

// LockView is one entry of the /locks response
type LockView struct {
	App    string `json:"app"`
	Locked bool   `json:"locked"`
	Key    string `json:"lockKey"`
	Day    string `json:"day"`
}

// LocksResponse is the /locks response
type LocksResponse struct {
	OK    bool       `json:"ok"`
	Date  string     `json:"date"`
	Store string     `json:"store"`
	Locks []LockView `json:"locks"`
}

// ReadyResponse is the /ready response
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
