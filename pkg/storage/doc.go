/*
Package storage provides the expiring key-value stores that back keepwarm's
daily start locks.

Every backend implements LockStore: Get, Put with a time to live, and
Delete. Only key presence is meaningful to callers. Three backends exist:

  - BoltStore: an embedded bbolt file (<data-dir>/keepwarm.db) with a single
    "locks" bucket. bbolt has no expiry of its own, so each value is stored
    as JSON carrying its deadline; expired keys read as absent and are
    removed lazily, and Purge sweeps them in bulk.
  - RedisStore: a go-redis client using native SET ... EX expiry. Use this
    when several keepwarm processes must share one lock namespace.
  - MemoryStore: a mutex-guarded map for tests and throwaway runs.

Backends report errors faithfully. Deciding what an error means (for the
daily lock, "not locked") is the caller's job.
*/
package storage
