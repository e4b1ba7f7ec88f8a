package util

import (
	"encoding/csv"
	"log"
	"strings"

	"github.com/google/uuid"
)

// ParseCmd splits a command line into argv, honoring single-quoted
// spans and backslash-escaped spaces/tabs the way a shell would.
func ParseCmd(cmd string) (parsed_cmd []string) {
	is_quoted := strings.Contains(cmd, "'") && strings.Count(cmd, "'")%2 == 0 && !strings.Contains(cmd, "\\")
	is_escaped := strings.Contains(cmd, "\\")
	if !is_escaped && !is_quoted {
		return strings.Fields(cmd)
	}
	space := uuid.NewString()
	tab := uuid.NewString()

	// process cmds that looks like: cat /tmp/name\ with\ spaces.bin
	if is_escaped {
		temp := strings.ReplaceAll(cmd, "\\ ", space)
		temp = strings.ReplaceAll(temp, "\\t", tab)
		parsed_cmd = strings.Fields(temp)
		for n, arg := range parsed_cmd {
			parsed_cmd[n] = strings.ReplaceAll(strings.ReplaceAll(arg, space, " "), tab, "\t")
		}
		return
	}

	// process cmds that looks like: cat '/tmp/name with spaces.bin'
	if is_quoted {
		cmd = strings.ReplaceAll(cmd, "'", `"`) // use double quotes
		r := csv.NewReader(strings.NewReader(cmd))
		r.Comma = ' ' // space
		r.LazyQuotes = true
		fields, err := r.Read()
		if err != nil {
			log.Printf("ParseCmd: %v", err)
			return
		}
		for _, f := range fields {
			parsed_cmd = append(parsed_cmd, strings.TrimSpace(f))
		}
		return
	}

	return
}
