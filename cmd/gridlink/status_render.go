package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"gridlink/internal/ipc"
	"gridlink/internal/status"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 12
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	text := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		text += " " + message
	}
	line := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", text)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + line + ansiReset
		}
	}
	return line
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func setupKind(s status.SetupStatus) statusKind {
	switch s {
	case status.SetupAvailable:
		return statusOK
	case status.SetupError:
		return statusError
	case status.SetupNoProject, status.SetupClosing, status.SetupClosed:
		return statusWarn
	default:
		return statusInfo
	}
}

func computingKind(s status.ComputingStatus) statusKind {
	switch s {
	case status.ComputingComputing:
		return statusOK
	case status.ComputingIdle:
		return statusInfo
	default:
		return statusWarn
	}
}

func networkKind(s status.NetworkStatus) statusKind {
	if s == status.NetworkAvailable {
		return statusOK
	}
	return statusWarn
}

func reasonText(r ipc.SuspendReason) string {
	if r == ipc.SuspendNone {
		return ""
	}
	return "(" + r.String() + ")"
}

// renderSummary prints the three derived statuses.
func renderSummary(p status.Published, colorize bool) []string {
	return []string{
		renderStatusLine("Daemon", setupKind(p.Setup), p.Setup.String(), colorize),
		renderStatusLine("Computing", computingKind(p.Computing), strings.TrimSpace(p.Computing.String()+" "+reasonText(p.ComputingReason)), colorize),
		renderStatusLine("Network", networkKind(p.Network), strings.TrimSpace(p.Network.String()+" "+reasonText(p.NetworkReason)), colorize),
	}
}

// renderPublished prints the summary followed by project, task, and
// transfer tables.
func renderPublished(w io.Writer, p status.Published, colorize bool) {
	for _, line := range renderSummary(p, colorize) {
		fmt.Fprintln(w, line)
	}
	snap := p.Snapshot
	if snap == nil {
		return
	}

	if len(snap.Projects) > 0 {
		fmt.Fprintln(w)
		for _, line := range renderSectionHeader("Projects", colorize) {
			fmt.Fprintln(w, line)
		}
		rows := make([][]string, 0, len(snap.Projects))
		for _, pr := range snap.Projects {
			rows = append(rows, []string{pr.Name, pr.MasterURL, pr.UserName, fmt.Sprintf("%.0f", pr.UserTotalCredit), projectState(pr)})
		}
		fmt.Fprintln(w, renderTable([]string{"Name", "URL", "User", "Credit", "State"}, rows, 3))
	}

	if len(snap.Results) > 0 {
		fmt.Fprintln(w)
		for _, line := range renderSectionHeader("Tasks", colorize) {
			fmt.Fprintln(w, line)
		}
		rows := make([][]string, 0, len(snap.Results))
		for _, r := range snap.Results {
			rows = append(rows, []string{r.Name, r.ProjectURL, resultState(r), fmt.Sprintf("%.1f%%", r.FractionDone*100)})
		}
		fmt.Fprintln(w, renderTable([]string{"Name", "Project", "State", "Done"}, rows, 3))
	}

	if len(snap.Transfers) > 0 {
		fmt.Fprintln(w)
		for _, line := range renderSectionHeader("Transfers", colorize) {
			fmt.Fprintln(w, line)
		}
		rows := make([][]string, 0, len(snap.Transfers))
		for _, t := range snap.Transfers {
			dir := "download"
			if t.Upload {
				dir = "upload"
			}
			rows = append(rows, []string{t.Name, t.ProjectURL, dir, fmt.Sprintf("%.0f/%.0f", t.BytesXferred, t.Bytes), fmt.Sprint(t.Retries)})
		}
		fmt.Fprintln(w, renderTable([]string{"Name", "Project", "Direction", "Bytes", "Retries"}, rows, 3, 4))
	}
}

func projectState(p ipc.Project) string {
	var parts []string
	if p.SuspendedViaClient {
		parts = append(parts, "suspended")
	}
	if p.DontRequestMoreWork {
		parts = append(parts, "no new work")
	}
	if p.AttachedViaAcctMgr {
		parts = append(parts, "managed")
	}
	if p.Ended {
		parts = append(parts, "ended")
	}
	if len(parts) == 0 {
		return "active"
	}
	return strings.Join(parts, ", ")
}

func resultState(r ipc.Result) string {
	switch {
	case r.ReadyToReport:
		return "ready to report"
	case r.Executing():
		return "running"
	case r.SuspendedViaClient:
		return "suspended"
	case r.ActiveTask:
		return "waiting"
	default:
		return "queued"
	}
}
