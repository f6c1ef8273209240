package cli

import (
	"os"

	"toolchat/internal/config"
	"toolchat/internal/db"
)

// Function variables for dependency injection in tests.
// Default values are the real implementations; tests may temporarily swap them.
var (
	osMkdirAll         = os.MkdirAll
	getenv             = os.Getenv
	configPath         = config.Path
	configWriteDefault = config.WriteDefault
	configLoad         = config.Load
	dbConnect          = db.Connect
	setValueAtPathFn   = setValueAtPath
)
