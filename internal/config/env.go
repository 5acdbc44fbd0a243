package config

import (
	"os"
	"strconv"
)

// applyEnv lets deployment-level settings override the document
// without editing it. Only server and storage knobs are reachable this
// way; rotation settings always come from the document.
func (c *Config) applyEnv() {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setStr(&c.Server.Listen, "MULTIAPI_LISTEN")
	setStr(&c.Server.LogFile, "MULTIAPI_LOG_FILE")
	setStr(&c.Server.ManagementKey, "MULTIAPI_MANAGEMENT_KEY")
	setStr(&c.Server.ManagementKeyHash, "MULTIAPI_MANAGEMENT_KEY_HASH")
	if v := os.Getenv("MULTIAPI_DEBUG"); v != "" {
		c.Server.Debug, _ = strconv.ParseBool(v)
	}

	setStr(&c.Storage.Backend, "MULTIAPI_STORAGE_BACKEND")
	setStr(&c.Storage.RedisAddr, "MULTIAPI_REDIS_ADDR")
	setStr(&c.Storage.RedisPassword, "MULTIAPI_REDIS_PASSWORD")
	if v := os.Getenv("MULTIAPI_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Storage.RedisDB = db
		}
	}
	setStr(&c.Storage.RedisPrefix, "MULTIAPI_REDIS_PREFIX")
	setStr(&c.Storage.MongoURI, "MULTIAPI_MONGODB_URI")
	setStr(&c.Storage.MongoDatabase, "MULTIAPI_MONGODB_DATABASE")
	setStr(&c.Storage.PostgresDSN, "MULTIAPI_POSTGRES_DSN")
	setStr(&c.Storage.GitDir, "MULTIAPI_GIT_DIR")
	setStr(&c.Storage.GitRemoteURL, "MULTIAPI_GIT_REMOTE_URL")
	setStr(&c.Storage.GitBranch, "MULTIAPI_GIT_BRANCH")
}
