package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/leadmail/internal/app"
	"github.com/foxzi/leadmail/internal/placeholder"
	"github.com/foxzi/leadmail/internal/template"
)

var (
	templateName         string
	templateSubject      string
	templateBodyFile     string
	templateIcon         string
	templatePlaceholders []string
	templateValues       []string
	templateSearch       string
	templateLeadID       string
	templateDataJSON     string
	templateRaw          bool
)

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Template management commands",
}

var templateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all templates",
	RunE:  runTemplateList,
}

var templateCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new template",
	Long: `Create a template from a body file. Tokens in the subject and body that
are not auto placeholders are tracked as custom placeholders; set their
values with --set name=value.`,
	RunE: runTemplateCreate,
}

var templateShowCmd = &cobra.Command{
	Use:   "show <id|name>",
	Short: "Show template details",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplateShow,
}

var templatePreviewCmd = &cobra.Command{
	Use:   "preview <id|name>",
	Short: "Preview template with lead data",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplatePreview,
}

var templateDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a template",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplateDelete,
}

var templateImportCmd = &cobra.Command{
	Use:   "import-raw <file.json>",
	Short: "Import stored template records",
	Long: `Import one record or an array of records as exported by "template show --raw".
Records in older placeholder layouts are stored as they are and migrated on read.`,
	Args: cobra.ExactArgs(1),
	RunE: runTemplateImport,
}

func init() {
	templateListCmd.Flags().StringVar(&templateSearch, "search", "", "Filter by name or body")

	templateCreateCmd.Flags().StringVar(&templateName, "name", "", "Template name (required)")
	templateCreateCmd.Flags().StringVar(&templateSubject, "subject", "", "Subject line")
	templateCreateCmd.Flags().StringVar(&templateBodyFile, "body", "", "Body template file (required)")
	templateCreateCmd.Flags().StringVar(&templateIcon, "icon", "", "Icon tag")
	templateCreateCmd.Flags().StringArrayVar(&templatePlaceholders, "placeholder", nil, "Add a custom placeholder (repeatable)")
	templateCreateCmd.Flags().StringArrayVar(&templateValues, "set", nil, "Set a custom placeholder value as name=value (repeatable)")
	templateCreateCmd.MarkFlagRequired("name")
	templateCreateCmd.MarkFlagRequired("body")

	templateShowCmd.Flags().BoolVar(&templateRaw, "raw", false, "Print the stored record as JSON")

	templatePreviewCmd.Flags().StringVar(&templateLeadID, "lead", "", "Lead ID to render for")
	templatePreviewCmd.Flags().StringVar(&templateDataJSON, "data", "{}", "JSON lead data when no --lead is given")

	templateCmd.AddCommand(
		templateListCmd,
		templateCreateCmd,
		templateShowCmd,
		templatePreviewCmd,
		templateDeleteCmd,
		templateImportCmd,
	)
	rootCmd.AddCommand(templateCmd)
}

func runTemplateList(cmd *cobra.Command, args []string) error {
	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	templates, err := application.Templates().List(cmd.Context(), template.ListFilter{Search: templateSearch})
	if err != nil {
		return fmt.Errorf("failed to list templates: %w", err)
	}

	if len(templates) == 0 {
		fmt.Println("No templates found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSUBJECT\tCUSTOM\tUPDATED")
	for _, tmpl := range templates {
		subject := tmpl.SubjectText()
		if r := []rune(subject); len(r) > 40 {
			subject = string(r[:37]) + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			tmpl.ID[:8],
			tmpl.Name,
			subject,
			len(tmpl.Placeholders),
			tmpl.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d templates\n", len(templates))
	return nil
}

func runTemplateCreate(cmd *cobra.Command, args []string) error {
	body, err := os.ReadFile(templateBodyFile)
	if err != nil {
		return fmt.Errorf("failed to read body file: %w", err)
	}

	values, err := parseAssignments(templateValues)
	if err != nil {
		return err
	}

	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	session := application.NewSession()
	session.SetName(templateName)
	session.SetSubject(templateSubject)
	session.SetBody(string(body))
	session.SetIcon(templateIcon)

	for _, raw := range templatePlaceholders {
		added, err := session.AddPlaceholder(raw)
		switch {
		case placeholder.IsDuplicate(err):
			fmt.Printf("Placeholder %s already tracked\n", added.Name)
		case err != nil:
			return err
		}
	}
	for _, kv := range values {
		name := placeholder.Normalize(kv[0])
		if !session.Draft().Placeholders.Has(name) {
			return fmt.Errorf("unknown placeholder in --set: %s", kv[0])
		}
		session.SetPlaceholderValue(name, kv[1])
	}

	tmpl, err := session.Save(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Template created successfully\n")
	fmt.Printf("  ID:   %s\n", tmpl.ID)
	fmt.Printf("  Name: %s\n", tmpl.Name)
	printPlaceholders(application, tmpl)
	return nil
}

func runTemplateShow(cmd *cobra.Command, args []string) error {
	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	tmpl, err := findTemplate(cmd.Context(), application, args[0])
	if err != nil {
		return err
	}

	if templateRaw {
		rec, err := application.Templates().GetRecord(cmd.Context(), tmpl.ID)
		if err != nil {
			return fmt.Errorf("failed to get template record: %w", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	fmt.Printf("ID:          %s\n", tmpl.ID)
	fmt.Printf("Name:        %s\n", tmpl.Name)
	if tmpl.Icon != "" {
		fmt.Printf("Icon:        %s\n", tmpl.Icon)
	}
	fmt.Printf("Created:     %s\n", tmpl.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated:     %s\n", tmpl.UpdatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("\nSubject:\n  %s\n", tmpl.SubjectText())

	fmt.Printf("\nBody:\n")
	for _, line := range strings.Split(tmpl.Body, "\n") {
		fmt.Printf("  %s\n", line)
	}

	printPlaceholders(application, tmpl)
	return nil
}

func runTemplatePreview(cmd *cobra.Command, args []string) error {
	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	tmpl, err := findTemplate(cmd.Context(), application, args[0])
	if err != nil {
		return err
	}

	var fields map[string]string
	if templateLeadID != "" {
		l, err := application.Leads().Get(cmd.Context(), templateLeadID)
		if err != nil {
			return fmt.Errorf("failed to get lead: %w", err)
		}
		if l == nil {
			return fmt.Errorf("lead not found: %s", templateLeadID)
		}
		fields = l.Fields()
	} else if err := json.Unmarshal([]byte(templateDataJSON), &fields); err != nil {
		return fmt.Errorf("invalid JSON data: %w", err)
	}

	rendered := application.Renderer().Render(tmpl, fields, tmpl.Values())

	fmt.Printf("Subject: %s\n\n", rendered.Subject)
	fmt.Println(rendered.Body)
	return nil
}

func runTemplateDelete(cmd *cobra.Command, args []string) error {
	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	tmpl, err := deleteTemplate(cmd.Context(), application, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Template %s (%s) deleted\n", tmpl.Name, tmpl.ID)
	return nil
}

// deleteTemplate resolves key by ID or name and deletes the match
func deleteTemplate(ctx context.Context, application *app.App, key string) (*template.Template, error) {
	tmpl, err := findTemplate(ctx, application, key)
	if err != nil {
		return nil, err
	}
	if err := application.NewSession().Delete(ctx, tmpl.ID); err != nil {
		return nil, err
	}
	return tmpl, nil
}

func runTemplateImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var records []*template.Record
	if trimmed := strings.TrimSpace(string(data)); strings.HasPrefix(trimmed, "[") {
		err = json.Unmarshal(data, &records)
	} else {
		var rec template.Record
		err = json.Unmarshal(data, &rec)
		records = append(records, &rec)
	}
	if err != nil {
		return fmt.Errorf("invalid template record: %w", err)
	}

	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	for _, rec := range records {
		if err := application.Templates().PutRaw(cmd.Context(), rec); err != nil {
			return fmt.Errorf("failed to import %q: %w", rec.Name, err)
		}
		_, shape := template.FromRecord(rec)
		fmt.Printf("Imported %s (%s, placeholders: %s)\n", rec.ID, rec.Name, shape)
	}
	return nil
}

// findTemplate looks a template up by ID, then by name
func findTemplate(ctx context.Context, application *app.App, key string) (*template.Template, error) {
	tmpl, err := application.Templates().Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	if tmpl == nil {
		tmpl, err = application.Templates().GetByName(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to get template: %w", err)
		}
	}
	if tmpl == nil {
		return nil, fmt.Errorf("template not found: %s", key)
	}
	return tmpl, nil
}

func printPlaceholders(application *app.App, tmpl *template.Template) {
	classified := application.Registry().ClassifyAll(tmpl.SubjectText(), tmpl.Body)
	if len(classified) > 0 {
		fmt.Printf("\nTokens:\n")
		for _, c := range classified {
			fmt.Printf("  - %s (%s)\n", c.Name, c.Kind)
		}
	}

	if len(tmpl.Placeholders) > 0 {
		fmt.Printf("\nCustom placeholders:\n")
		for _, c := range tmpl.Placeholders {
			fmt.Printf("  - %s = %q\n", c.Name, c.Value)
		}
	}
}

// parseAssignments splits name=value pairs
func parseAssignments(items []string) ([][2]string, error) {
	out := make([][2]string, 0, len(items))
	for _, item := range items {
		name, value, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid assignment %q (want name=value)", item)
		}
		out = append(out, [2]string{name, value})
	}
	return out, nil
}
