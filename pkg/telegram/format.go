package telegram

import (
	"fmt"
	"html"
	"strings"

	"github.com/cuemby/keepwarm/pkg/manager"
	"github.com/cuemby/keepwarm/pkg/types"
)

// maxListedResults caps per-app lines in bulk replies
const maxListedResults = 10

const deniedText = "❌ <b>Permission denied</b>\n\nYou are not an administrator of this bot."

const helpText = `🤖 <b>keepwarm</b>

/list - apps with state and lock
/status &lt;app&gt; - app detail
/run &lt;app&gt; - force start an app
/runall - force start all enabled apps
/unlock &lt;app&gt; - remove today's lock
/unlockall - remove today's locks for enabled apps`

func code(s string) string {
	return "<code>" + html.EscapeString(s) + "</code>"
}

func stateIcon(st types.AppStatus) string {
	switch {
	case !st.Succeeded:
		return "❓"
	case st.State == types.AppStateStarted:
		return "✅"
	default:
		return "❌"
	}
}

func lockIcon(locked bool) string {
	if locked {
		return "🔒"
	}
	return "🔑"
}

// formatList renders one line per app: state icon, lock icon and name
func formatList(statuses []types.AppStatus, locks []types.LockStatus) string {
	locked := make(map[string]bool, len(locks))
	for _, l := range locks {
		locked[l.App] = l.Locked
	}

	var sb strings.Builder
	sb.WriteString("📋 <b>Apps</b>\n\n")
	if len(statuses) == 0 {
		sb.WriteString("No enabled apps")
		return sb.String()
	}
	for _, st := range statuses {
		fmt.Fprintf(&sb, "%s %s %s\n", stateIcon(st), lockIcon(locked[st.App]), code(st.App))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// formatDetail renders one app's state and lock
func formatDetail(st types.AppStatus, ls types.LockStatus) string {
	state := "unknown"
	if st.Succeeded {
		state = st.State
	}
	lockText := "unlocked"
	if ls.Locked {
		lockText = "locked"
	}

	var sb strings.Builder
	sb.WriteString("📱 <b>App detail</b>\n\n")
	fmt.Fprintf(&sb, "<b>Name:</b> %s\n", code(st.App))
	fmt.Fprintf(&sb, "<b>State:</b> %s %s\n", stateIcon(st), html.EscapeString(state))
	fmt.Fprintf(&sb, "<b>Lock:</b> %s %s\n", lockIcon(ls.Locked), lockText)
	if st.Succeeded {
		fmt.Fprintf(&sb, "<b>Instances:</b> %s\n", html.EscapeString(instanceSummary(st.Instances)))
	}
	if st.Error != "" {
		fmt.Fprintf(&sb, "<b>Error:</b> %s\n", html.EscapeString(st.Error))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func instanceSummary(instances []types.InstanceStatus) string {
	if len(instances) == 0 {
		return "none"
	}
	return strings.Join(types.InstanceStates(instances), ", ")
}

// outcomeDetail is the failure text shown for an unsuccessful outcome
func outcomeDetail(o types.Outcome) string {
	if o.Error != "" {
		return o.Error
	}
	return string(o.Reason)
}

// formatOutcome renders the result of a single start
func formatOutcome(o types.Outcome) string {
	if o.Succeeded {
		if o.Reason == types.ReasonAlreadyRunning {
			return "✅ " + code(o.App) + " is already running"
		}
		return "✅ " + code(o.App) + " started"
	}
	return "❌ " + code(o.App) + " failed to start\nError: " + html.EscapeString(outcomeDetail(o))
}

// formatRunAll summarizes a bulk start
func formatRunAll(outcomes []types.Outcome) string {
	succeeded := 0
	lines := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Succeeded {
			succeeded++
			lines = append(lines, "✅ "+html.EscapeString(o.App)+": started")
		} else {
			lines = append(lines, "❌ "+html.EscapeString(o.App)+": "+html.EscapeString(outcomeDetail(o)))
		}
	}
	total := len(outcomes)

	var sb strings.Builder
	sb.WriteString("🚀 <b>Start all finished</b>\n\n")
	fmt.Fprintf(&sb, "✅ Succeeded: %d/%d\n", succeeded, total)
	fmt.Fprintf(&sb, "❌ Failed: %d/%d\n", total-succeeded, total)
	if len(lines) > 0 {
		sb.WriteString("\n")
	}
	if len(lines) > maxListedResults {
		sb.WriteString(strings.Join(lines[:maxListedResults], "\n"))
		fmt.Fprintf(&sb, "\n... %d more not shown", len(lines)-maxListedResults)
	} else {
		sb.WriteString(strings.Join(lines, "\n"))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatUnlockAll(res manager.ClearResult) string {
	return fmt.Sprintf("✅ Unlocked %d of %d apps", res.Cleared, res.Total)
}
