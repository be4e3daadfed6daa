package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/leadmail/internal/lead"
)

var (
	leadSheet  string
	leadSearch string
	leadLimit  int
	leadEmail  string
	leadFields []string
)

var leadCmd = &cobra.Command{
	Use:   "lead",
	Short: "Lead management commands",
}

var leadImportCmd = &cobra.Command{
	Use:   "import <file.csv|file.xlsx>",
	Short: "Import leads from a spreadsheet",
	Long: `Import leads from CSV or XLSX. The first row names the columns; an
email column is required and every other column becomes a lead field keyed
by its normalized name (for example "Firma Name" becomes firma_name).`,
	Args: cobra.ExactArgs(1),
	RunE: runLeadImport,
}

var leadAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add or replace a single lead",
	RunE:  runLeadAdd,
}

var leadListCmd = &cobra.Command{
	Use:   "list",
	Short: "List leads",
	RunE:  runLeadList,
}

var leadDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a lead",
	Args:  cobra.ExactArgs(1),
	RunE:  runLeadDelete,
}

func init() {
	leadImportCmd.Flags().StringVar(&leadSheet, "sheet", "", "XLSX sheet name (default: first sheet)")

	leadAddCmd.Flags().StringVar(&leadEmail, "email", "", "Recipient address (required)")
	leadAddCmd.Flags().StringArrayVar(&leadFields, "field", nil, "Lead field as key=value (repeatable)")
	leadAddCmd.MarkFlagRequired("email")

	leadListCmd.Flags().StringVar(&leadSearch, "search", "", "Filter by email or field value")
	leadListCmd.Flags().IntVar(&leadLimit, "limit", 50, "Maximum number of leads to show")

	leadCmd.AddCommand(leadImportCmd, leadAddCmd, leadListCmd, leadDeleteCmd)
	rootCmd.AddCommand(leadCmd)
}

func runLeadImport(cmd *cobra.Command, args []string) error {
	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	path := args[0]
	var result *lead.ImportResult
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open file: %w", err)
		}
		defer f.Close()
		result, err = application.Leads().ImportCSV(cmd.Context(), f)
		if err != nil {
			return fmt.Errorf("failed to import leads: %w", err)
		}
	case ".xlsx":
		result, err = application.Leads().ImportXLSX(cmd.Context(), path, leadSheet)
		if err != nil {
			return fmt.Errorf("failed to import leads: %w", err)
		}
	default:
		return fmt.Errorf("unsupported file type %q (want .csv or .xlsx)", filepath.Ext(path))
	}

	fmt.Printf("Import complete\n")
	fmt.Printf("  Rows:     %d\n", result.Total)
	fmt.Printf("  Imported: %d\n", result.Imported)
	fmt.Printf("  Skipped:  %d\n", result.Skipped)
	for _, e := range result.Errors {
		fmt.Printf("  ! %s\n", e)
	}
	return nil
}

func runLeadAdd(cmd *cobra.Command, args []string) error {
	pairs, err := parseAssignments(leadFields)
	if err != nil {
		return err
	}

	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	l := &lead.Lead{Email: leadEmail, Attributes: make(map[string]string, len(pairs))}
	for _, kv := range pairs {
		l.Attributes[kv[0]] = kv[1]
	}
	if err := application.Leads().Create(cmd.Context(), l); err != nil {
		return err
	}

	fmt.Printf("Lead saved: %s (%s)\n", l.ID, l.Email)
	return nil
}

func runLeadList(cmd *cobra.Command, args []string) error {
	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	leads, err := application.Leads().List(cmd.Context(), lead.ListFilter{Search: leadSearch, Limit: leadLimit})
	if err != nil {
		return fmt.Errorf("failed to list leads: %w", err)
	}

	if len(leads) == 0 {
		fmt.Println("No leads found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEMAIL\tFIELDS")
	for _, l := range leads {
		keys := make([]string, 0, len(l.Attributes))
		for k := range l.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + l.Attributes[k]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", l.ID[:8], l.Email, strings.Join(parts, ", "))
	}
	w.Flush()

	total, err := application.Leads().Count(cmd.Context())
	if err == nil {
		fmt.Printf("\nShowing %d of %d leads\n", len(leads), total)
	}
	return nil
}

func runLeadDelete(cmd *cobra.Command, args []string) error {
	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	if err := application.Leads().Delete(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to delete lead: %w", err)
	}

	fmt.Printf("Lead %s deleted\n", args[0])
	return nil
}
