package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haggle-net/haggle/internal/types"
)

// interestCmd groups the add_interest/remove_interest/get_interests
// control vocabulary (spec.md §4.6) under "haggle-ctl interest ...".
func interestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "interest",
		Short: "Manage this client's subscription interest set",
	}
	cmd.AddCommand(interestAddCmd())
	cmd.AddCommand(interestRemoveCmd())
	cmd.AddCommand(interestListCmd())
	return cmd
}

func interestAddCmd() *cobra.Command {
	var attrFlags []string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an interest (subscription filter)",
		Long:  "Registers a weighted attribute set as this client's interest. Repeat --attr name=value[:weight] for each attribute; \"*\" is the wildcard value (spec.md §3).",
		RunE: func(_ *cobra.Command, _ []string) error {
			attrs, err := parseAttrFlags(attrFlags)
			if err != nil {
				return err
			}
			c, _, err := dialAndRegister()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.AddInterest(attrs)
		},
	}
	cmd.Flags().StringArrayVar(&attrFlags, "attr", nil, "attribute in name=value or name=value:weight form (repeatable)")
	return cmd
}

func interestRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove",
		Short: "Clear this client's interest set",
		RunE: func(_ *cobra.Command, _ []string) error {
			c, _, err := dialAndRegister()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.RemoveInterest()
		},
	}
}

func interestListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show this client's current interest set",
		RunE: func(_ *cobra.Command, _ []string) error {
			c, _, err := dialAndRegister()
			if err != nil {
				return err
			}
			defer c.Close()
			attrs, err := c.GetInterests()
			if err != nil {
				return err
			}
			out, err := formatAttributes(attrs, outputFormat)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

// parseAttrFlags parses one or more "name=value" or "name=value:weight"
// strings into an AttributeSet (spec.md §3).
func parseAttrFlags(flags []string) (types.AttributeSet, error) {
	attrs := make([]types.Attribute, 0, len(flags))
	for _, f := range flags {
		name, rest, ok := strings.Cut(f, "=")
		if !ok {
			return types.AttributeSet{}, fmt.Errorf("haggle-ctl: invalid --attr %q, expected name=value", f)
		}
		value, weightStr, hasWeight := strings.Cut(rest, ":")
		if !hasWeight {
			attrs = append(attrs, types.NewAttribute(name, value))
			continue
		}
		weight, err := strconv.ParseUint(weightStr, 10, 32)
		if err != nil {
			return types.AttributeSet{}, fmt.Errorf("haggle-ctl: invalid weight in --attr %q: %w", f, err)
		}
		attrs = append(attrs, types.NewWeightedAttribute(name, value, uint32(weight)))
	}
	return types.NewAttributeSet(attrs...), nil
}
