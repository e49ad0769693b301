package session

import "strings"

type command int

const (
	cmdList command = iota + 1
	cmdStats
	cmdCleanup
)

// reserved maps the exact, lower-cased utterances that are answered by the
// session itself.
var reserved = map[string]command{
	"list memories": cmdList,
	"列出記憶":          cmdList,
	"顯示記憶":          cmdList,
	"記憶列表":          cmdList,

	"memory stats": cmdStats,
	"記憶統計":         cmdStats,
	"統計":           cmdStats,

	"cleanup": cmdCleanup,
	"清理記憶":    cmdCleanup,
	"整理":      cmdCleanup,
}

func reservedCommand(text string) (command, bool) {
	cmd, ok := reserved[strings.ToLower(strings.TrimSpace(text))]
	return cmd, ok
}
