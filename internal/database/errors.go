package database

import "errors"

// ErrManagerClosed is returned for writes after Close
var ErrManagerClosed = errors.New("database manager is closed")
