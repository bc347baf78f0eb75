package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/coupledsim/fmigate/pkg/modeldesc"
	"github.com/coupledsim/fmigate/pkg/supervisor"
)

var describeCmd = &cobra.Command{
	Use:   "describe <fmu-dir>",
	Short: "Print the interface declared by a model description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		location, err := supervisor.PathFromURI(args[0])
		if err != nil {
			return err
		}
		doc, err := modeldesc.Parse(location + "/" + modeldesc.FileName)
		if err != nil {
			return err
		}

		fmt.Printf("Model:       %s\n", doc.ModelName)
		fmt.Printf("FMI version: %s\n", doc.FMIVersion)
		fmt.Printf("GUID:        %s\n", doc.GUID)
		if doc.Description != "" {
			fmt.Printf("Description: %s\n", doc.Description)
		}
		if exe := doc.ExecutableURI(); exe != "" {
			fmt.Printf("Executable:  %s\n", exe)
		}
		if doc.EntryPoint != "" {
			fmt.Printf("Entry point: %s\n", doc.EntryPoint)
		}
		fmt.Println()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tREF\tTYPE\tCAUSALITY\tVARIABILITY\tSTART")
		for _, v := range doc.Variables {
			start := ""
			if v.HasStart {
				start = v.Start
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
				v.Name, v.ValueReference, v.Kind, v.Causality, v.Variability, start)
		}
		return w.Flush()
	},
}
