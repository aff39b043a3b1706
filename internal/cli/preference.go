package cli

import (
	"strconv"
	"strings"
	"time"

	"github.com/ivolkov/Praxis/internal/domain"
	"github.com/spf13/cobra"
)

// NewPreferenceCmd создаёт группу команд для просмотра preferences.
func NewPreferenceCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preference",
		Short: "Inspect learned preferences",
	}

	cmd.AddCommand(newPreferenceListCmd(clientFn, outputFn))

	return cmd
}

func newPreferenceListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var user string
	var key string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List preferences of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			prefs, err := client.ListPreferences(cmd.Context(), user, key)
			if err != nil {
				return err
			}

			headers := []string{"ID", "KEY", "PATTERN", "DECISION", "CONFIDENCE", "USES", "LAST_USED"}
			rows := make([][]string, len(prefs))
			for i, p := range prefs {
				rows[i] = []string{
					p.ID.String(), p.Key, formatPattern(p.Pattern),
					string(p.Decision),
					strconv.FormatFloat(p.Confidence, 'f', 2, 64),
					strconv.Itoa(p.UsageCount),
					p.LastUsedAt.Format(time.RFC3339),
				}
			}

			out.Print(headers, rows, prefs)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Preference owner (required)")
	cmd.Flags().StringVar(&key, "key", "", "Filter by preference key")
	cmd.MarkFlagRequired("user")

	return cmd
}

// formatPattern сворачивает непустые поля паттерна в компактную строку.
func formatPattern(p domain.PreferencePattern) string {
	var parts []string
	add := func(name, value string) {
		if value != "" {
			parts = append(parts, name+"="+value)
		}
	}

	add("task_type", p.TaskType)
	add("agent_type", p.AgentType)
	add("channel", p.Channel)
	add("content_type", p.ContentType)
	add("data_source", p.DataSource)
	add("output_type", p.OutputType)
	add("api_domain", p.APIDomain)
	add("risk_level", p.RiskLevel)

	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}
