package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"southwinds.dev/memo"
)

var recordCmd = &cobra.Command{
	Use:     "record",
	Aliases: []string{"rec"},
	Short:   "Manage records in the vault",
	Long:    "Create, read, update and delete encrypted records. Field values are given as id=value pairs.",
}

var addRecordCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a new record",
	Args:  cobra.NoArgs,
	RunE:  addRecord,
}

var getRecordCmd = &cobra.Command{
	Use:   "get [record-id]",
	Short: "Decrypt and show a record",
	Args:  cobra.ExactArgs(1),
	RunE:  getRecord,
}

var listRecordsCmd = &cobra.Command{
	Use:   "list",
	Short: "List records",
	Long:  "List record titles, newest first. Field values are not decrypted.",
	Args:  cobra.NoArgs,
	RunE:  listRecords,
}

var updateRecordCmd = &cobra.Command{
	Use:   "update [record-id]",
	Short: "Replace the content of a record",
	Long:  "Update a record. Flags that are not given keep their current value; --field replaces only the named fields and an empty value (id=) removes one.",
	Args:  cobra.ExactArgs(1),
	RunE:  updateRecord,
}

var deleteRecordCmd = &cobra.Command{
	Use:   "delete [record-id]",
	Short: "Delete a record",
	Long:  "Mark a record deleted. The deletion reaches other devices on the next sync and can be undone with restore.",
	Args:  cobra.ExactArgs(1),
	RunE:  deleteRecord,
}

var restoreRecordCmd = &cobra.Command{
	Use:   "restore [record-id]",
	Short: "Restore a deleted record",
	Args:  cobra.ExactArgs(1),
	RunE:  restoreRecord,
}

var localOnlyRecordCmd = &cobra.Command{
	Use:   "local-only [record-id] [true|false]",
	Short: "Keep a record off the remote store",
	Args:  cobra.ExactArgs(2),
	RunE:  setRecordLocalOnly,
}

var (
	recordTitle     string
	recordTemplate  string
	recordLabels    []string
	recordFields    []string
	recordLocalOnly bool
	outputJSON      bool

	filterLabel    string
	filterTemplate string
	showDeleted    bool
)

func init() {
	rootCmd.AddCommand(recordCmd)

	recordCmd.AddCommand(addRecordCmd)
	recordCmd.AddCommand(getRecordCmd)
	recordCmd.AddCommand(listRecordsCmd)
	recordCmd.AddCommand(updateRecordCmd)
	recordCmd.AddCommand(deleteRecordCmd)
	recordCmd.AddCommand(restoreRecordCmd)
	recordCmd.AddCommand(localOnlyRecordCmd)

	for _, c := range []*cobra.Command{addRecordCmd, updateRecordCmd} {
		c.Flags().StringVarP(&recordTitle, "title", "t", "", "record title")
		c.Flags().StringVarP(&recordTemplate, "template", "T", "", "template id")
		c.Flags().StringSliceVarP(&recordLabels, "label", "l", nil, "label id (repeatable)")
		c.Flags().StringArrayVarP(&recordFields, "field", "f", nil, "field value as id=value (repeatable)")
	}
	addRecordCmd.Flags().BoolVar(&recordLocalOnly, "local-only", false, "never upload this record")

	getRecordCmd.Flags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	listRecordsCmd.Flags().StringVar(&filterLabel, "label", "", "only records carrying this label id")
	listRecordsCmd.Flags().StringVar(&filterTemplate, "template", "", "only records using this template id")
	listRecordsCmd.Flags().BoolVar(&showDeleted, "deleted", false, "include deleted records")
	listRecordsCmd.Flags().BoolVar(&outputJSON, "json", false, "output in JSON format")
}

func addRecord(cmd *cobra.Command, args []string) error {
	if err := unlockVault(cmd.Context()); err != nil {
		return err
	}

	fields, err := parseFieldValues(recordFields)
	if err != nil {
		return err
	}

	id, err := vaultStore.CreateRecord(cmd.Context(), memo.RecordInput{
		Title:     recordTitle,
		Template:  recordTemplate,
		Labels:    recordLabels,
		Fields:    fields,
		LocalOnly: recordLocalOnly,
	})
	if err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}

	fmt.Printf("Record '%s' created\n", id)
	return nil
}

func getRecord(cmd *cobra.Command, args []string) error {
	if err := unlockVault(cmd.Context()); err != nil {
		return err
	}

	record, err := vaultStore.GetRecord(args[0])
	if err != nil {
		return fmt.Errorf("failed to get record: %w", err)
	}

	if outputJSON {
		return printJSON(record)
	}

	fmt.Printf("ID: %s\n", record.ID)
	fmt.Printf("Title: %s\n", record.Title)
	if record.Template != "" {
		fmt.Printf("Template: %s\n", record.Template)
	}
	if len(record.Labels) > 0 {
		fmt.Printf("Labels: %s\n", strings.Join(record.Labels, ", "))
	}
	fmt.Printf("Modified: %s\n", record.LastModified.Local().Format(timeLayout))
	if record.Deleted {
		fmt.Println("Deleted: yes")
	}
	if record.LocalOnly {
		fmt.Println("Local only: yes")
	}

	if len(record.Fields) > 0 {
		fmt.Println("Fields:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, f := range record.Fields {
			fmt.Fprintf(w, "  %s\t%s\t%s\n", f.Name, f.Type, f.Value)
		}
		w.Flush()
	}
	return nil
}

func listRecords(cmd *cobra.Command, args []string) error {
	if err := unlockVault(cmd.Context()); err != nil {
		return err
	}

	entries, err := vaultStore.GetRecordList(memo.RecordListOptions{
		IncludeDeleted: showDeleted,
		Label:          filterLabel,
		Template:       filterTemplate,
	})
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}

	if outputJSON {
		return printJSON(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No records found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tTITLE\tTEMPLATE\tMODIFIED\tFLAGS")
	for _, e := range entries {
		var flags []string
		if e.Deleted {
			flags = append(flags, "deleted")
		}
		if e.LocalOnly {
			flags = append(flags, "local")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.Title, e.Template, e.LastModified.Local().Format(timeLayout), strings.Join(flags, ","))
	}
	return nil
}

// updateRecord merges the given flags over the current content of the record
func updateRecord(cmd *cobra.Command, args []string) error {
	if err := unlockVault(cmd.Context()); err != nil {
		return err
	}

	id := args[0]
	current, err := vaultStore.GetRecord(id)
	if err != nil {
		return fmt.Errorf("failed to get record: %w", err)
	}
	if current.Deleted {
		return fmt.Errorf("%s: %w", id, memo.ErrRecordNotFound)
	}

	input := memo.RecordInput{
		Title:    current.Title,
		Template: current.Template,
		Labels:   current.Labels,
		Fields:   make(map[string]string, len(current.Fields)),
	}
	for _, f := range current.Fields {
		input.Fields[f.ID] = f.Value
	}

	flags := cmd.Flags()
	if flags.Changed("title") {
		input.Title = recordTitle
	}
	if flags.Changed("template") {
		input.Template = recordTemplate
	}
	if flags.Changed("label") {
		input.Labels = recordLabels
	}
	changes, err := parseFieldValues(recordFields)
	if err != nil {
		return err
	}
	for k, v := range changes {
		if v == "" {
			delete(input.Fields, k)
			continue
		}
		input.Fields[k] = v
	}

	if err = vaultStore.UpdateRecord(cmd.Context(), id, input); err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	fmt.Printf("Record '%s' updated\n", id)
	return nil
}

func deleteRecord(cmd *cobra.Command, args []string) error {
	if err := unlockVault(cmd.Context()); err != nil {
		return err
	}
	if err := vaultStore.DeleteRecord(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	fmt.Printf("Record '%s' deleted\n", args[0])
	return nil
}

func restoreRecord(cmd *cobra.Command, args []string) error {
	if err := unlockVault(cmd.Context()); err != nil {
		return err
	}
	if err := vaultStore.RestoreRecord(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to restore record: %w", err)
	}
	fmt.Printf("Record '%s' restored\n", args[0])
	return nil
}

func setRecordLocalOnly(cmd *cobra.Command, args []string) error {
	localOnly, ok := convertValue(args[1]).(bool)
	if !ok {
		return fmt.Errorf("expected true or false, got %q", args[1])
	}
	if err := unlockVault(cmd.Context()); err != nil {
		return err
	}
	if err := vaultStore.SetRecordLocalOnly(cmd.Context(), args[0], localOnly); err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	fmt.Printf("Record '%s' local only: %v\n", args[0], localOnly)
	return nil
}

// parseFieldValues turns id=value pairs into a map. A value of "-" reads it from a hidden prompt.
func parseFieldValues(pairs []string) (map[string]string, error) {
	fields := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		id, value, ok := strings.Cut(pair, "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid field %q, expected id=value", pair)
		}
		if value == "-" {
			secret, err := promptSecret(id + ": ")
			if err != nil {
				return nil, err
			}
			value = string(secret)
		}
		fields[id] = value
	}
	return fields, nil
}
