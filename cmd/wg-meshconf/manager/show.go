package manager

import (
	"github.com/olekukonko/tablewriter"

	"wg-meshconf/cmd/wg-meshconf/database"
	"wg-meshconf/models"
)

var columnColors = map[string]tablewriter.Colors{
	"Name":       {tablewriter.FgCyanColor},
	"Address":    {tablewriter.FgRedColor},
	"ListenPort": {tablewriter.FgYellowColor},
	"PrivateKey": {tablewriter.FgMagentaColor},
	"Endpoint":   {tablewriter.FgGreenColor},
}

// shownColumns lists the attribute columns of the table. The pair key column
// is bookkeeping and never shown.
func shownColumns(peers []*models.PeerRecord, verbose bool) []string {
	fields := []string{"Name"}
	for _, col := range database.Columns() {
		if col == "Name" || col == "PresharedKeys" {
			continue
		}
		if verbose {
			fields = append(fields, col)
			continue
		}
		for _, r := range peers {
			if database.Value(r, col) != "" {
				fields = append(fields, col)
				break
			}
		}
	}
	return fields
}

// ShowPeers renders one peer, or all of them when name is empty, as a table.
// Without verbose, columns that are empty for every shown peer are left out.
func (m *Manager) ShowPeers(name string, verbose bool) error {
	return m.view(func(s *database.Store) error {
		peers := s.Peers()
		if name != "" {
			r, err := s.Lookup(name)
			if err != nil {
				return err
			}
			peers = []*models.PeerRecord{r}
		}

		fields := shownColumns(peers, verbose)

		table := tablewriter.NewWriter(m.Out)
		table.SetAutoFormatHeaders(false)
		table.SetAutoWrapText(false)
		table.SetRowLine(true)
		table.SetHeader(fields)
		if m.Color {
			colors := make([]tablewriter.Colors, 0, len(fields))
			for _, f := range fields {
				colors = append(colors, columnColors[f])
			}
			table.SetColumnColor(colors...)
		}

		for _, r := range peers {
			line := make([]string, 0, len(fields))
			for _, f := range fields {
				line = append(line, database.Value(r, f))
			}
			table.Append(line)
		}
		table.Render()
		return nil
	})
}
