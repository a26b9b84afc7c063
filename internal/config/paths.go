package config

import (
	"path/filepath"

	"github.com/sentinel-agent/sentinel/internal/store"
)

const pidFileName = "sentinel.pid"

// Well-known file names resolved relative to the directories below.
const (
	ConfigFilePath = store.ConfigFilePath
	SoulFilePath   = store.SoulFilePath
	UserFilePath   = "USER.md"
	MemoryFilePath = store.MemoryFilePath
)

// ToolTmpDir returns the scratch directory tools spill large output into.
func (c *Config) ToolTmpDir() string {
	return filepath.Join(c.WorkspaceDir(), store.TmpDirPath)
}

// LogsDir returns the durable JSON-lines log directory under DataDir.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// BlobDir returns the durable journal blob directory under DataDir.
func (c *Config) BlobDir() string {
	return filepath.Join(c.DataDir, "blob")
}

// DBPath returns the sqlite3 database file path for the durable
// AgentState/ShortTermMemory/ToolUsageLog tables.
func (c *Config) DBPath() string {
	return filepath.Join(c.AgentDir(), "agent.db")
}

// ChromaDir returns the vector memory persistence directory under DataDir.
func (c *Config) ChromaDir() string {
	return filepath.Join(c.AgentDir(), "chroma")
}

// SkillsDir returns the skills markdown directory under the agent dir.
func (c *Config) SkillsDir() string {
	return filepath.Join(c.AgentDir(), store.SkillsDirPath)
}

// AllowedDomainsPath returns the outbound domain allowlist file path.
func (c *Config) AllowedDomainsPath() string {
	return filepath.Join(c.DataDir, store.AllowedDomainsFilePath)
}

// AllowedCommandsPath returns the shell command allowlist file path.
func (c *Config) AllowedCommandsPath() string {
	return filepath.Join(c.DataDir, store.AllowedCommandsFilePath)
}

// AllowedUsersPath returns the channel user allowlist file path.
func (c *Config) AllowedUsersPath() string {
	return filepath.Join(c.DataDir, store.AllowedUsersFilePath)
}

// JobsPath returns the scheduled-job store file path for the active agent.
func (c *Config) JobsPath() string {
	return filepath.Join(c.AgentDir(), store.JobsFilePath)
}

// PIDPath returns the lock-file path used to detect a running instance.
func (c *Config) PIDPath() string {
	return filepath.Join(c.DataDir, pidFileName)
}

// SoulPath returns the persona file path for the active agent.
func (c *Config) SoulPath() string {
	return filepath.Join(c.AgentDir(), store.SoulFilePath)
}

// MemoryPath returns the flat memory ledger file path for the active agent.
func (c *Config) MemoryPath() string {
	return filepath.Join(c.MemoryDir(), store.MemoryFilePath)
}

// MemoryDir returns the memory directory for the active agent.
func (c *Config) MemoryDir() string {
	return filepath.Join(c.AgentDir(), store.MemoryDirPath)
}

// DailyLogsDir returns the daily memory log directory for the active agent.
func (c *Config) DailyLogsDir() string {
	return filepath.Join(c.MemoryDir(), store.DailyDirPath)
}
