package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"kimiauth/internal/session"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		Long: `Show the state of the stored token without refreshing it.

Examples:
  kimi-auth status             # Table output
  kimi-auth status -o json     # Machine readable output`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	return cmd
}

func runStatus(cmd *cobra.Command, output string) error {
	if output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q", output)
	}

	m, err := newManager(true)
	if err != nil {
		return err
	}
	defer m.Close()

	st, err := m.Status(cmd.Context())
	if err != nil {
		return err
	}

	if output == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(statusJSON(st))
	}

	fmt.Fprintln(cmd.OutOrStdout(), renderStatus(st))
	return nil
}

type statusView struct {
	Authenticated   bool   `json:"authenticated"`
	Expired         bool   `json:"expired"`
	ExpiresAt       string `json:"expiresAt,omitempty"`
	ExpiresIn       int64  `json:"expiresIn,omitempty"`
	HasRefreshToken bool   `json:"hasRefreshToken"`
	Scope           string `json:"scope,omitempty"`
	DeviceID        string `json:"deviceId,omitempty"`
	StorageDir      string `json:"storageDir"`
}

func statusJSON(st session.Status) statusView {
	v := statusView{
		Authenticated:   st.Authenticated,
		Expired:         st.Expired,
		HasRefreshToken: st.HasRefreshToken,
		Scope:           st.Scope,
		DeviceID:        st.DeviceID,
		StorageDir:      st.StorageDir,
	}
	if st.Authenticated {
		v.ExpiresAt = st.ExpiresAt.UTC().Format(time.RFC3339)
		v.ExpiresIn = int64(st.ExpiresIn / time.Second)
	}
	return v
}

func renderStatus(st session.Status) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Options.SeparateRows = false
	t.AppendHeader(table.Row{"Property", "Value"})

	switch {
	case !st.Authenticated:
		t.AppendRow(table.Row{"Status", text.FgYellow.Sprint("Not authenticated")})
	case st.Expired:
		t.AppendRow(table.Row{"Status", text.FgRed.Sprint("Expired")})
	default:
		t.AppendRow(table.Row{"Status", text.FgGreen.Sprint("Authenticated")})
	}

	if st.Authenticated {
		t.AppendRow(table.Row{"Expires", fmt.Sprintf("%s (%s)",
			st.ExpiresAt.Local().Format(time.RFC1123), formatRemaining(st.ExpiresIn))})
		if st.HasRefreshToken {
			t.AppendRow(table.Row{"Refresh", text.FgGreen.Sprint("Available")})
		} else {
			t.AppendRow(table.Row{"Refresh", text.FgYellow.Sprint("Not available (re-auth required on expiry)")})
		}
		if st.Scope != "" {
			t.AppendRow(table.Row{"Scope", st.Scope})
		}
		if st.DeviceID != "" {
			t.AppendRow(table.Row{"Device ID", st.DeviceID})
		}
	}
	t.AppendRow(table.Row{"Storage", st.StorageDir})

	return t.Render()
}

func formatRemaining(d time.Duration) string {
	if d <= 0 {
		return "expired " + (-d).Round(time.Second).String() + " ago"
	}
	return "in " + d.Round(time.Second).String()
}
