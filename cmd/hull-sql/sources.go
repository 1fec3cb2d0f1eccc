package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hull-ships/hull-sql-sub000/internal/endpoint"
)

var sourcesJSON bool

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the supported source kinds and their settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		descs, err := endpoint.DefaultRegistry().Describe()
		if err != nil {
			return err
		}
		if sourcesJSON {
			return printJSON(descs)
		}
		return writeSources(cmd.OutOrStdout(), descs)
	},
}

func init() {
	sourcesCmd.Flags().BoolVar(&sourcesJSON, "json", false, "print descriptors as JSON")
}

// writeSources prints one row per kind. Required settings are marked with *.
func writeSources(w io.Writer, descs []*endpoint.Descriptor) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tTITLE\tPORT\tSETTINGS")
	for _, d := range descs {
		port := "-"
		if d.DefaultPort > 0 {
			port = fmt.Sprint(d.DefaultPort)
		}
		fields := make([]string, 0, len(d.Fields))
		for _, f := range d.Fields {
			name := f.Key
			if f.Required {
				name += "*"
			}
			fields = append(fields, name)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.ID, d.Title, port, strings.Join(fields, ","))
	}
	return tw.Flush()
}
