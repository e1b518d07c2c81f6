package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// dataObjectsCmd groups the get_dataobjects/delete_dataobject control
// vocabulary (spec.md §4.3, §4.6) under "haggle-ctl dataobjects ...".
func dataObjectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "dataobjects",
		Aliases: []string{"do"},
		Short:   "Query and manage data objects in the local store",
	}
	cmd.AddCommand(dataObjectsListCmd())
	cmd.AddCommand(dataObjectsDeleteCmd())
	return cmd
}

func dataObjectsListCmd() *cobra.Command {
	var attrFlags []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Run a filter query against the store",
		Long:  "Runs an ad-hoc query (--attr name=value[:weight], repeatable) against the local data store and prints every matching object's metadata. An empty query matches every object.",
		RunE: func(_ *cobra.Command, _ []string) error {
			query, err := parseAttrFlags(attrFlags)
			if err != nil {
				return err
			}
			c, _, err := dialAndRegister()
			if err != nil {
				return err
			}
			defer c.Close()
			objs, err := c.GetDataObjects(query)
			if err != nil {
				return err
			}
			out, err := formatDataObjects(objs, outputFormat)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&attrFlags, "attr", nil, "query attribute in name=value or name=value:weight form (repeatable)")
	return cmd
}

func dataObjectsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <base64-id>",
		Short: "Delete a stored data object by its base64-encoded id",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c, _, err := dialAndRegister()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.DeleteDataObject(args[0])
		},
	}
}
