package serverlog

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"anthill/pkg/anthill"
)

const (
	logEntriesPerPage    = 10
	logContentMaxRunes   = 160
	logTimestampLayout   = "2006-01-02 15:04"
	logContentContinuity = "…"
)

// renderLogPages formats log entries into page texts, newest first, one
// block of logEntriesPerPage entries per page.
func renderLogPages(title string, entries []anthill.LogEntry) []string {
	pages := make([]string, 0, (len(entries)+logEntriesPerPage-1)/logEntriesPerPage)

	for start := 0; start < len(entries); start += logEntriesPerPage {
		end := start + logEntriesPerPage
		if end > len(entries) {
			end = len(entries)
		}

		var page strings.Builder
		page.WriteString(title)
		page.WriteString("\n")
		for _, entry := range entries[start:end] {
			page.WriteString("\n")
			page.WriteString(renderLogEntry(entry))
		}
		pages = append(pages, page.String())
	}

	return pages
}

func renderLogEntry(entry anthill.LogEntry) string {
	return fmt.Sprintf("[%s] %s · user %d · msg %d\n%s",
		entry.LoggedAt.Format(logTimestampLayout),
		logKindLabel(entry.Kind),
		entry.UserID,
		entry.MessageID,
		truncateContent(entry.Content),
	)
}

func logKindLabel(kind anthill.LogKind) string {
	switch kind {
	case anthill.LogKindOriginal:
		return "posted"
	case anthill.LogKindEditBefore:
		return "edited from"
	case anthill.LogKindEditAfter:
		return "edited to"
	case anthill.LogKindDeletion:
		return "deleted"
	default:
		return string(kind)
	}
}

func truncateContent(content string) string {
	if content == "" {
		return "(empty)"
	}
	if utf8.RuneCountInString(content) <= logContentMaxRunes {
		return content
	}

	runes := []rune(content)
	return string(runes[:logContentMaxRunes]) + logContentContinuity
}
