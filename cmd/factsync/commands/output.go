package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shoplane/factsync/src/fact"
	"github.com/shoplane/factsync/src/service"
)

// Output formats.
const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

// render writes v in the requested format. text is the human rendering of v.
func render(w io.Writer, format string, v interface{}, text func(io.Writer) error) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case outputText, "":
		return text(w)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func writeEntityText(w io.Writer, v service.EntityView) error {
	header := "entity " + v.EntityID
	if v.AsOf != nil {
		header += " as of " + v.AsOf.UTC().Format(time.RFC3339)
	}
	if _, err := fmt.Fprintln(w, header); err != nil {
		return err
	}

	rows := [][]string{{"PROPERTY", "STATE", "VALUE"}}
	for _, p := range v.Properties {
		rows = append(rows, []string{p.Property, p.State, describeValue(p)})
	}
	return writeTable(w, rows)
}

func writePropertyText(w io.Writer, entityID string, p service.PropertyView) error {
	if _, err := fmt.Fprintf(w, "%s/%s %s %s\n", entityID, p.Property, p.State, describeValue(p)); err != nil {
		return err
	}

	rows := [][]string{}
	for _, f := range p.Facts {
		rows = append(rows, factRow(f))
	}
	return writeTable(w, rows)
}

func writeFactsText(w io.Writer, facts []fact.Fact) error {
	rows := [][]string{{"TIME", "HASH", "VALUE", "BY"}}
	for _, f := range facts {
		rows = append(rows, factRow(f))
	}
	return writeTable(w, rows)
}

func writeRecordsText(w io.Writer, records []fact.Record) error {
	for _, r := range records {
		_, err := fmt.Fprintf(w, "%s %s/%s=%s obsoletes %d\n",
			r.Fact.Hash, r.Fact.EntityID, r.Fact.Property, strconv.Quote(r.Fact.Value), len(r.Obsoletes))
		if err != nil {
			return err
		}
	}
	return nil
}

func factRow(f fact.Fact) []string {
	return []string{
		f.Meta.Time().Format(time.RFC3339),
		shortHash(f.Hash),
		strconv.Quote(f.Value),
		f.Meta.Author + "@" + f.Meta.Device,
	}
}

// describeValue is "-" for an absent key, the quoted value of a good key, and
// the winner followed by the competing values of a conflict.
func describeValue(p service.PropertyView) string {
	switch p.State {
	case "Absent":
		return "-"
	case "Conflict":
		quoted := make([]string, len(p.Values))
		for i, v := range p.Values {
			quoted[i] = strconv.Quote(v)
		}
		return fmt.Sprintf("%s (conflict: %s)", strconv.Quote(p.Value), strings.Join(quoted, ", "))
	default:
		return strconv.Quote(p.Value)
	}
}

// writeTable pads every column but the last to its widest cell plus two
// spaces.
func writeTable(w io.Writer, rows [][]string) error {
	widths := []int{}
	for _, row := range rows {
		for i, cell := range row {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	for _, row := range rows {
		var b strings.Builder
		for i, cell := range row {
			if i == len(row)-1 {
				b.WriteString(cell)
				break
			}
			fmt.Fprintf(&b, "%-*s", widths[i]+2, cell)
		}
		b.WriteByte('\n')
		if _, err := io.WriteString(w, b.String()); err != nil {
			return err
		}
	}
	return nil
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
