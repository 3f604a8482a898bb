package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"southwinds.dev/memo"
)

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Manage record templates",
	Long: `Templates describe the ordered fields of a kind of record.

Fields are given as id:name:type[:optional], e.g. --field url:URL:url --field pw:Password:password.`,
}

var addTemplateCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Create a template",
	Args:  cobra.ExactArgs(1),
	RunE:  addTemplate,
}

var listTemplatesCmd = &cobra.Command{
	Use:   "list",
	Short: "List templates",
	Args:  cobra.NoArgs,
	RunE:  listTemplates,
}

var getTemplateCmd = &cobra.Command{
	Use:   "get [template-id]",
	Short: "Show a template",
	Args:  cobra.ExactArgs(1),
	RunE:  getTemplate,
}

var deleteTemplateCmd = &cobra.Command{
	Use:   "delete [template-id]",
	Short: "Delete a template that no record uses",
	Args:  cobra.ExactArgs(1),
	RunE:  deleteTemplate,
}

var templateFields []string

func init() {
	rootCmd.AddCommand(templateCmd)

	templateCmd.AddCommand(addTemplateCmd)
	templateCmd.AddCommand(listTemplatesCmd)
	templateCmd.AddCommand(getTemplateCmd)
	templateCmd.AddCommand(deleteTemplateCmd)

	addTemplateCmd.Flags().StringArrayVarP(&templateFields, "field", "f", nil, "field as id:name:type[:optional] (repeatable)")
	getTemplateCmd.Flags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	listTemplatesCmd.Flags().BoolVar(&outputJSON, "json", false, "output in JSON format")
}

func addTemplate(cmd *cobra.Command, args []string) error {
	fields, err := parseTemplateFields(templateFields)
	if err != nil {
		return err
	}
	if err = unlockVault(cmd.Context()); err != nil {
		return err
	}

	id, err := vaultStore.CreateTemplate(cmd.Context(), memo.Template{Name: args[0], Fields: fields})
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	fmt.Printf("Template '%s' created\n", id)
	return nil
}

func listTemplates(cmd *cobra.Command, args []string) error {
	if err := unlockVault(cmd.Context()); err != nil {
		return err
	}

	templates, err := vaultStore.GetTemplateList()
	if err != nil {
		return fmt.Errorf("failed to list templates: %w", err)
	}
	if outputJSON {
		return printJSON(templates)
	}
	if len(templates) == 0 {
		fmt.Println("No templates found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tNAME\tFIELDS")
	for _, t := range templates {
		names := make([]string, 0, len(t.Fields))
		for _, f := range t.Fields {
			names = append(names, f.Name)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.ID, t.Name, strings.Join(names, ", "))
	}
	return nil
}

func getTemplate(cmd *cobra.Command, args []string) error {
	if err := unlockVault(cmd.Context()); err != nil {
		return err
	}

	tmpl, err := vaultStore.GetTemplate(args[0])
	if err != nil {
		return fmt.Errorf("failed to get template: %w", err)
	}
	if outputJSON {
		return printJSON(tmpl)
	}

	fmt.Printf("Name: %s\n", tmpl.Name)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tOPTIONAL")
	for _, f := range tmpl.Fields {
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\n", f.ID, f.Name, f.Type, f.Optional)
	}
	return nil
}

func deleteTemplate(cmd *cobra.Command, args []string) error {
	if err := unlockVault(cmd.Context()); err != nil {
		return err
	}
	if err := vaultStore.DeleteTemplate(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	fmt.Printf("Template '%s' deleted\n", args[0])
	return nil
}

// parseTemplateFields reads id:name:type[:optional]; name and type may be left empty
func parseTemplateFields(specs []string) ([]memo.TemplateField, error) {
	fields := make([]memo.TemplateField, 0, len(specs))
	for _, spec := range specs {
		parts := strings.Split(spec, ":")
		if len(parts) > 4 {
			return nil, fmt.Errorf("invalid field %q, expected id:name:type[:optional]", spec)
		}
		for len(parts) < 4 {
			parts = append(parts, "")
		}

		field := memo.TemplateField{ID: parts[0], Name: parts[1], Type: parts[2]}
		if parts[3] != "" {
			optional, err := strconv.ParseBool(parts[3])
			if err != nil {
				if parts[3] != "optional" {
					return nil, fmt.Errorf("invalid optional flag in %q", spec)
				}
				optional = true
			}
			field.Optional = optional
		}
		fields = append(fields, field)
	}
	return fields, nil
}
