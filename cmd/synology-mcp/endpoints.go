package main

import (
	"fmt"
	"time"

	"github.com/rodaine/table"
	"github.com/spf13/cobra"

	"github.com/acolita/synology-mcp/internal/config"
	"github.com/acolita/synology-mcp/internal/session"
	"github.com/acolita/synology-mcp/internal/synoapi"
)

func newEndpointsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "endpoints",
		Short: "List configured NAS endpoints",
		Long: `List the endpoints of the configuration file together with the state
remembered from earlier runs (last login, preferred download destination).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			store := session.NewStateStore(session.WithStorePath(cfg.Session.StatePath))
			printEndpoints(cmd, cfg, store)
			return nil
		},
	}
}

func printEndpoints(cmd *cobra.Command, cfg *config.Config, store *session.StateStore) {
	out := cmd.OutOrStdout()
	if len(cfg.Endpoints) == 0 {
		fmt.Fprintln(out, "No endpoints configured.")
		fmt.Fprintln(out, "Add one with the synology_config_add tool or set SYNOLOGY_URL.")
		return
	}

	tbl := table.New("NAME", "URL", "USER", "PASSWORD", "AUTO-LOGIN", "LAST LOGIN", "DESTINATION")
	tbl.WithWriter(out).WithPadding(2)
	for _, ep := range cfg.Endpoints {
		name := ep.Name
		if name == cfg.DefaultEndpoint {
			name += " *"
		}
		url, err := synoapi.CanonicalEndpoint(ep.URL)
		if err != nil {
			url = ep.URL + " (invalid)"
		}
		lastLogin, dest := "-", "-"
		if st, ok := store.Get(url); ok {
			if !st.LastLogin.IsZero() {
				lastLogin = st.LastLogin.Local().Format(time.DateTime)
			}
			if st.PreferredDestination != "" {
				dest = st.PreferredDestination
			}
		}
		tbl.AddRow(name, url, orDash(ep.Username), passwordSource(ep), yesNo(ep.AutoLogin), lastLogin, dest)
	}
	tbl.Print()
}

func passwordSource(ep config.EndpointConfig) string {
	switch {
	case ep.PasswordEnv != "" && ep.UseKeyring:
		return "$" + ep.PasswordEnv + ", keyring"
	case ep.PasswordEnv != "":
		return "$" + ep.PasswordEnv
	case ep.UseKeyring:
		return "keyring"
	default:
		return "-"
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
