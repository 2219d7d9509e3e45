package dialog

import (
	"strings"

	"github.com/i474232898/weather-bot/internal/common"
)

// Command is a recognized entry point.
type Command string

const (
	CmdStart    Command = "start"
	CmdHelp     Command = "help"
	CmdWeather  Command = "weather"
	CmdForecast Command = "forecast"
	CmdAlert    Command = "alert"
	CmdCancel   Command = "cancel"
	CmdAlerts   Command = "alerts"
	CmdUnalert  Command = "unalert"
	CmdPause    Command = "pause"
	CmdResume   Command = "resume"
	CmdHistory  Command = "history"
)

// Main menu captions. The transport renders them as keyboard buttons and
// they are accepted as commands.
const (
	MenuWeather  = "Current weather"
	MenuForecast = "Forecast"
	MenuAlert    = "Set alert"
	MenuCancel   = "Cancel"
)

// MenuLayout is the keyboard shown with the welcome prompt, row by row.
var MenuLayout = [][]string{
	{MenuWeather, MenuForecast},
	{MenuAlert, MenuCancel},
}

var slashCommands = map[string]Command{
	"start":    CmdStart,
	"help":     CmdHelp,
	"weather":  CmdWeather,
	"forecast": CmdForecast,
	"alert":    CmdAlert,
	"cancel":   CmdCancel,
	"alerts":   CmdAlerts,
	"unalert":  CmdUnalert,
	"pause":    CmdPause,
	"resume":   CmdResume,
	"history":  CmdHistory,
}

var menuCommands = map[string]Command{
	strings.ToLower(MenuWeather):  CmdWeather,
	strings.ToLower(MenuForecast): CmdForecast,
	strings.ToLower(MenuAlert):    CmdAlert,
	strings.ToLower(MenuCancel):   CmdCancel,
}

// ParseCommand recognizes "/cmd", "/cmd@botname" (arguments ignored) and
// the menu captions, case-insensitively.
func ParseCommand(text string) (Command, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}

	if strings.HasPrefix(text, "/") {
		name := strings.TrimPrefix(common.FirstWord(text), "/")
		if at := strings.IndexByte(name, '@'); at >= 0 {
			name = name[:at]
		}
		cmd, ok := slashCommands[strings.ToLower(name)]
		return cmd, ok
	}

	cmd, ok := menuCommands[strings.ToLower(text)]
	return cmd, ok
}
