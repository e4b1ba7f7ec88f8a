package manager

import (
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/pwncat-go/pwncat/lib/session"
)

// renderSessionTable builds the `sessions` built-in's output, the
// RAW-mode session table, the same way cc.go renders its target list:
// a bordered, colorized tablewriter.Table over one row per entry.
func renderSessionTable(current int, sessions map[int]*session.Session) string {
	var b strings.Builder
	table := tablewriter.NewWriter(&b)
	table.SetHeader([]string{"ID", "Current", "User", "Host", "Platform", "Host ID"})
	table.SetBorder(true)
	table.SetRowLine(true)
	table.SetAutoWrapText(true)
	table.SetAutoFormatHeaders(true)

	table.SetHeaderColor(
		tablewriter.Colors{tablewriter.Bold, tablewriter.FgHiMagentaColor},
		tablewriter.Colors{tablewriter.Bold, tablewriter.FgHiYellowColor},
		tablewriter.Colors{tablewriter.Bold, tablewriter.FgHiWhiteColor},
		tablewriter.Colors{tablewriter.Bold, tablewriter.FgHiBlueColor},
		tablewriter.Colors{tablewriter.Bold, tablewriter.FgHiCyanColor},
		tablewriter.Colors{tablewriter.Bold, tablewriter.FgHiWhiteColor},
	)

	ids := make([]int, 0, len(sessions))
	for id := range sessions {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		s := sessions[id]
		marker := ""
		if id == current {
			marker = "*"
		}
		table.Append([]string{
			strconv.Itoa(id),
			marker,
			s.User(),
			s.Channel().Host(),
			string(s.Platform().Kind()),
			s.HostID(),
		})
	}

	table.Render()
	return b.String()
}
