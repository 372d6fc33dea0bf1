package logging

import (
	"path/filepath"
	"time"
)

// AppName names the log files and the OTel instrumentation scope.
const AppName = "matchcore"

const fileStamp = "20060102_150405"

// LogFilePath returns <dir>/<app>.<stamp>.log for a process started at start.
func LogFilePath(dir, app string, start time.Time) string {
	return filepath.Join(dir, app+"."+start.Format(fileStamp)+".log")
}
