package cmd

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"southwinds.dev/memo/audit"
)

var (
	auditJsonOutput    bool
	auditSince         string
	auditUntil         string
	auditAction        string
	auditSuccessFilter string
	auditRecordID      string
	auditLimit         int
	auditOffset        int
	auditFailuresOnly  bool
	auditDetails       bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query and analyze audit logs",
	Long: `Query and analyze the audit trail written by the vault.

Audit logging must be enabled (audit.enabled) and use a queryable backend (file or logrus
with a file path). Events never contain record content or key material.`,
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query audit logs with filters",
	Long: `Query audit logs with various filtering options.

Examples:
  # Failed unlocks
  memo audit query --action UNLOCK_FAILED

  # Everything that touched one record
  memo audit query --record-id 6f1c...

  # A time window
  memo audit query --since "2024-01-01T00:00:00Z" --until "2024-01-31T23:59:59Z"`,
	Args: cobra.NoArgs,
	RunE: runAuditQuery,
}

var auditFailuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Show failed operations",
	Args:  cobra.NoArgs,
	RunE:  runAuditFailures,
}

var auditKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Show events that touched the master key",
	Long:  "Show initialisation, unlock, key derivation rotation, wipe and backup restore events.",
	Args:  cobra.NoArgs,
	RunE:  runAuditKeys,
}

var auditStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show audit statistics",
	Args:  cobra.NoArgs,
	RunE:  runAuditStats,
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.AddCommand(auditQueryCmd)
	auditCmd.AddCommand(auditFailuresCmd)
	auditCmd.AddCommand(auditKeysCmd)
	auditCmd.AddCommand(auditStatsCmd)

	auditCmd.PersistentFlags().BoolVar(&auditJsonOutput, "json", false, "Output in JSON format")
	auditCmd.PersistentFlags().StringVar(&auditSince, "since", "", "Show events since this time (RFC3339 format)")
	auditCmd.PersistentFlags().StringVar(&auditUntil, "until", "", "Show events until this time (RFC3339 format)")
	auditCmd.PersistentFlags().IntVar(&auditLimit, "limit", 100, "Maximum number of events to return")
	auditCmd.PersistentFlags().IntVar(&auditOffset, "offset", 0, "Number of events to skip")
	auditCmd.PersistentFlags().BoolVar(&auditDetails, "details", false, "Show detailed event information")

	auditQueryCmd.Flags().StringVar(&auditAction, "action", "", "Filter by specific action")
	auditQueryCmd.Flags().StringVar(&auditSuccessFilter, "success", "", "Filter by success status (true/false)")
	auditQueryCmd.Flags().StringVar(&auditRecordID, "record-id", "", "Filter by record ID")
	auditQueryCmd.Flags().BoolVar(&auditFailuresOnly, "failures-only", false, "Show only failed events")
}

func runAuditQuery(cmd *cobra.Command, args []string) error {
	options, err := buildQueryOptions()
	if err != nil {
		return err
	}
	return queryAndDisplay(options)
}

func runAuditFailures(cmd *cobra.Command, args []string) error {
	options, err := buildQueryOptions()
	if err != nil {
		return err
	}
	failure := false
	options.Success = &failure
	return queryAndDisplay(options)
}

func runAuditKeys(cmd *cobra.Command, args []string) error {
	options, err := buildQueryOptions()
	if err != nil {
		return err
	}
	options.KeyAccess = true
	return queryAndDisplay(options)
}

func runAuditStats(cmd *cobra.Command, args []string) error {
	options, err := buildQueryOptions()
	if err != nil {
		return err
	}
	options.Limit = 0
	options.Offset = 0

	result, err := auditLogger.Query(options)
	if err != nil {
		return fmt.Errorf("failed to query audit logs: %w", err)
	}

	stats := calculateAuditStats(result.Events)
	if auditJsonOutput {
		return printJSON(stats)
	}
	return displayAuditStats(stats)
}

func buildQueryOptions() (audit.QueryOptions, error) {
	options := audit.QueryOptions{
		Limit:    auditLimit,
		Offset:   auditOffset,
		Action:   auditAction,
		RecordID: auditRecordID,
	}

	if auditSince != "" {
		parsedTime, err := time.Parse(time.RFC3339, auditSince)
		if err != nil {
			return options, fmt.Errorf("invalid since time format: %w", err)
		}
		options.Since = &parsedTime
	}
	if auditUntil != "" {
		parsedTime, err := time.Parse(time.RFC3339, auditUntil)
		if err != nil {
			return options, fmt.Errorf("invalid until time format: %w", err)
		}
		options.Until = &parsedTime
	}

	if auditSuccessFilter != "" {
		success, err := strconv.ParseBool(auditSuccessFilter)
		if err != nil {
			return options, fmt.Errorf("invalid success filter format: %w", err)
		}
		options.Success = &success
	}
	if auditFailuresOnly {
		failure := false
		options.Success = &failure
	}
	return options, nil
}

func queryAndDisplay(options audit.QueryOptions) error {
	result, err := auditLogger.Query(options)
	if err != nil {
		return fmt.Errorf("failed to query audit logs: %w", err)
	}
	if auditJsonOutput {
		return printJSON(result)
	}
	if err = displayAuditEvents(result.Events); err != nil {
		return err
	}
	if result.HasMore {
		fmt.Printf("\n%d of %d matching events shown, use --offset to page\n", len(result.Events), result.Filtered)
	}
	return nil
}

func displayAuditEvents(events []audit.Event) error {
	if len(events) == 0 {
		fmt.Println("No audit events found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	if auditDetails {
		for _, event := range events {
			fmt.Fprintf(w, "Event ID:\t%s\n", event.ID)
			fmt.Fprintf(w, "Request ID:\t%s\n", event.RequestID)
			fmt.Fprintf(w, "Timestamp:\t%s\n", event.Timestamp.Local().Format(timeLayout))
			fmt.Fprintf(w, "Action:\t%s\n", event.Action)
			fmt.Fprintf(w, "Status:\t%s\n", eventStatus(event))

			if event.Error != "" {
				fmt.Fprintf(w, "Error:\t%s\n", event.Error)
			}
			if event.RecordID != "" {
				fmt.Fprintf(w, "Record ID:\t%s\n", event.RecordID)
			}
			if event.UserID != "" {
				fmt.Fprintf(w, "User ID:\t%s\n", event.UserID)
			}
			if event.Source != "" {
				fmt.Fprintf(w, "Source:\t%s\n", event.Source)
			}
			if len(event.Metadata) > 0 {
				keys := make([]string, 0, len(event.Metadata))
				for k := range event.Metadata {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				pairs := make([]string, 0, len(keys))
				for _, k := range keys {
					pairs = append(pairs, fmt.Sprintf("%s=%v", k, event.Metadata[k]))
				}
				fmt.Fprintf(w, "Metadata:\t%s\n", strings.Join(pairs, " "))
			}
			fmt.Fprintf(w, "────────────────────────────────────────\n")
		}
		return w.Flush()
	}

	fmt.Fprintf(w, "TIMESTAMP\tACTION\tSTATUS\tRECORD\tERROR\n")
	for _, event := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			event.Timestamp.Local().Format(timeLayout), event.Action, eventStatus(event),
			truncate(event.RecordID, 12), truncate(event.Error, 30))
	}
	return w.Flush()
}

func eventStatus(event audit.Event) string {
	if event.Success {
		return "SUCCESS"
	}
	return "FAILED"
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

// AuditStats summarises a set of audit events
type AuditStats struct {
	GeneratedAt      time.Time      `json:"generated_at"`
	TimeRange        string         `json:"time_range"`
	TotalEvents      int            `json:"total_events"`
	SuccessfulEvents int            `json:"successful_events"`
	FailedEvents     int            `json:"failed_events"`
	SuccessRate      float64        `json:"success_rate"`
	ActionBreakdown  map[string]int `json:"action_breakdown"`
	TopFailedActions []ActionCount  `json:"top_failed_actions"`
	TopRecords       []RecordCount  `json:"top_records"`
	FirstEvent       *time.Time     `json:"first_event,omitempty"`
	LastEvent        *time.Time     `json:"last_event,omitempty"`
	RecordOperations int            `json:"record_operations"`
	SyncOperations   int            `json:"sync_operations"`
	KeyOperations    int            `json:"key_operations"`
}

type ActionCount struct {
	Action string `json:"action"`
	Count  int    `json:"count"`
}

type RecordCount struct {
	RecordID string `json:"record_id"`
	Count    int    `json:"count"`
}

func calculateAuditStats(events []audit.Event) AuditStats {
	stats := AuditStats{
		GeneratedAt:     time.Now().UTC(),
		ActionBreakdown: make(map[string]int),
	}
	if len(events) == 0 {
		return stats
	}

	stats.TotalEvents = len(events)
	failedActions := make(map[string]int)
	recordCounts := make(map[string]int)

	for i := range events {
		event := events[i]
		if event.Success {
			stats.SuccessfulEvents++
		} else {
			stats.FailedEvents++
			failedActions[event.Action]++
		}
		stats.ActionBreakdown[event.Action]++

		if event.RecordID != "" {
			recordCounts[event.RecordID]++
		}

		switch {
		case isKeyAction(event.Action):
			stats.KeyOperations++
		case strings.HasPrefix(event.Action, "SYNC_"):
			stats.SyncOperations++
		case strings.Contains(event.Action, "_RECORD"):
			stats.RecordOperations++
		}

		ts := events[i].Timestamp
		if stats.FirstEvent == nil || ts.Before(*stats.FirstEvent) {
			stats.FirstEvent = &ts
		}
		if stats.LastEvent == nil || ts.After(*stats.LastEvent) {
			stats.LastEvent = &ts
		}
	}

	stats.SuccessRate = float64(stats.SuccessfulEvents) / float64(stats.TotalEvents) * 100
	stats.TopFailedActions = topActions(failedActions, 5)
	stats.TopRecords = topRecords(recordCounts, 10)

	if stats.FirstEvent != nil && stats.LastEvent != nil {
		duration := stats.LastEvent.Sub(*stats.FirstEvent)
		stats.TimeRange = fmt.Sprintf("%s (%.1f hours)", duration.String(), duration.Hours())
	}
	return stats
}

func displayAuditStats(stats AuditStats) error {
	fmt.Printf("Audit Statistics\n")
	fmt.Printf("Generated at: %s\n", stats.GeneratedAt.Local().Format(timeLayout))
	fmt.Printf("═══════════════════════════════════════\n\n")

	fmt.Printf("SUMMARY\n")
	fmt.Printf("───────\n")
	fmt.Printf("Total Events: %d\n", stats.TotalEvents)
	if stats.TotalEvents == 0 {
		return nil
	}
	fmt.Printf("Successful: %d (%.1f%%)\n", stats.SuccessfulEvents, stats.SuccessRate)
	fmt.Printf("Failed: %d (%.1f%%)\n", stats.FailedEvents, 100-stats.SuccessRate)
	if stats.TimeRange != "" {
		fmt.Printf("Time Range: %s\n", stats.TimeRange)
	}

	fmt.Printf("\nOPERATION BREAKDOWN\n")
	fmt.Printf("──────────────────\n")
	fmt.Printf("Record Operations: %d\n", stats.RecordOperations)
	fmt.Printf("Sync Operations: %d\n", stats.SyncOperations)
	fmt.Printf("Key Operations: %d\n", stats.KeyOperations)

	if len(stats.TopFailedActions) > 0 {
		fmt.Printf("\nTOP FAILED ACTIONS\n")
		fmt.Printf("─────────────────\n")
		for _, a := range stats.TopFailedActions {
			fmt.Printf("  %-30s %d\n", a.Action, a.Count)
		}
	}

	if len(stats.TopRecords) > 0 {
		fmt.Printf("\nMOST TOUCHED RECORDS\n")
		fmt.Printf("───────────────────\n")
		for _, r := range stats.TopRecords {
			fmt.Printf("  %-40s %d\n", r.RecordID, r.Count)
		}
	}
	return nil
}

func topActions(counts map[string]int, limit int) []ActionCount {
	out := make([]ActionCount, 0, len(counts))
	for action, count := range counts {
		out = append(out, ActionCount{Action: action, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Action < out[j].Action
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func topRecords(counts map[string]int, limit int) []RecordCount {
	out := make([]RecordCount, 0, len(counts))
	for id, count := range counts {
		out = append(out, RecordCount{RecordID: id, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].RecordID < out[j].RecordID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func isKeyAction(action string) bool {
	for _, prefix := range []string{"VAULT_INITIALIZED", "VAULT_WIPED", "UNLOCK", "LOCK", "KDF_ROTATION", "BACKUP_IMPORT"} {
		if strings.HasPrefix(action, prefix) {
			return true
		}
	}
	return false
}
