package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"conveyor/internal/library"
	"conveyor/internal/manifest"
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

func colorize(value string, kind statusKind, enabled bool) string {
	if !enabled {
		return value
	}
	if color := statusKindColor(kind); color != "" {
		return color + value + ansiReset
	}
	return value
}

func taskKind(state manifest.TaskState) statusKind {
	switch state {
	case manifest.TaskDone:
		return statusOK
	case manifest.TaskError:
		return statusError
	case manifest.TaskRunning:
		return statusInfo
	default:
		return statusWarn
	}
}

func fileKind(state manifest.FileState) statusKind {
	switch state {
	case manifest.FileReady:
		return statusOK
	case manifest.FileError:
		return statusError
	case manifest.FileProcessing:
		return statusInfo
	default:
		return statusWarn
	}
}

func entryKind(state string) statusKind {
	switch state {
	case library.StateComplete:
		return statusOK
	case library.StateError:
		return statusError
	case library.StatePurged:
		return statusWarn
	default:
		return statusInfo
	}
}

func renderSectionHeader(title string, color bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if color {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func renderTaskTable(items []manifest.Task, color bool) string {
	rows := make([][]string, 0, len(items))
	for _, t := range items {
		rows = append(rows, []string{
			t.ID,
			colorize(string(t.State), taskKind(t.State), color),
			strconv.Itoa(t.Percent) + "%",
			string(t.RelatedOutput),
			formatTime(t.UpdatedAt),
			truncate(t.ErrorText(), 60),
		})
	}
	return renderTable(
		[]column{left("Task"), left("State"), right("Progress"), left("Output"), left("Updated"), left("Error")},
		rows,
	) + "\n"
}

func renderFileTable(items []manifest.FileItem, color bool) string {
	rows := make([][]string, 0, len(items))
	for _, f := range items {
		size := "-"
		if c := f.Content(); c != nil && c.DiskSize > 0 {
			size = humanize.IBytes(uint64(c.DiskSize))
		}
		rows = append(rows, []string{
			string(f.Type),
			colorize(string(f.State), fileKind(f.State), color),
			strconv.Itoa(f.Version),
			f.Path,
			size,
			f.GeneratedBy,
		})
	}
	return renderTable(
		[]column{left("Artifact"), left("State"), right("Version"), left("Path"), right("Size"), left("Producer")},
		rows,
	) + "\n"
}

func truncate(value string, limit int) string {
	value = strings.Join(strings.Fields(value), " ")
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
