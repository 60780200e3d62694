package constant

import "os"

// <NodeDir>/                    (e.g., /home/guard/.guard)
// └── config/
//	└── guard_config.json
// └── data/
//	└── guard.db

const (
	NodeDir = ".guard"

	ConfigSubdir   = "config"
	ConfigFileName = "guard_config.json"

	DataSubdir = "data"
	DBFileName = "guard.db"
)

var DefaultNodeHome = os.ExpandEnv("$HOME/") + NodeDir
