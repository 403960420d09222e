package utils

import (
	"strings"
)

// NormalizeString replaces full-width punctuation with its half-width
// counterpart and trims leading/trailing spaces.
func NormalizeString(str string) string {
	replacer := strings.NewReplacer(
		"，", ",",
		"；", ";",
		"：", ":",
		"。", ".",
		"＠", "@",
		"　", " ",
	)
	return strings.TrimSpace(replacer.Replace(str))
}

// SplitList splits a comma-separated field, trimming items and dropping
// blank ones.
func SplitList(field string) []string {
	parts := strings.Split(NormalizeString(field), ",")
	list := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			list = append(list, p)
		}
	}
	return list
}
