package db

import "errors"

// Sentinel errors returned by the Redis-family store. Repositories translate
// them into domain errors; nothing above the repository layer sees them.
var (
	ErrKeyNotFound   = errors.New("db: key not found")
	ErrIndexNotFound = errors.New("db: index not found")
	ErrIndexExists   = errors.New("db: index already exists")
)

// Op constants map to Redis command names for error context.
const (
	OpCreateIndex = "FT.CREATE"
	OpDropIndex   = "FT.DROPINDEX"
	OpIndexInfo   = "FT.INFO"
	OpSearch      = "FT.SEARCH"
	OpJSONSet     = "JSON.SET"
	OpJSONMGet    = "JSON.MGET"
	OpDel         = "DEL"
	OpGet         = "GET"
	OpMGet        = "MGET"
	OpSet         = "SET"
	OpPing        = "PING"
)

// Error wraps an underlying error with the Redis command that failed, e.g.
// "FT.SEARCH: connection refused".
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }
