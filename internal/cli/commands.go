package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yanizio/wachat/internal/provider"
	"github.com/yanizio/wachat/internal/window"
)

/*──────────────────────────── resolve ──────────────────────────────────────*/

func newResolveCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <tenant-code>",
		Short: "Show a tenant's public profile and group peers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := e.codes.Normalize(args[0])
			if err != nil {
				return err
			}
			reg, err := e.openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			res, err := reg.Lookup(cmd.Context(), code)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			p := res.Profile
			fmt.Fprintf(out, "Tenant:   %s (%s)\n", p.Code, p.Name)
			fmt.Fprintf(out, "Database: %s@%s/%s\n", p.DBUser, p.DBHost, p.DBName)
			if g := p.GroupLabel(); g != "" {
				fmt.Fprintf(out, "Group:    %s\n", g)
			}
			if res.PeersErr != nil {
				fmt.Fprintf(out, "Peers:    unavailable (%v)\n", res.PeersErr)
				return nil
			}
			for _, peer := range res.Peers {
				fmt.Fprintf(out, "Peer:     %s (%s)\n", peer.Code, peer.Name)
			}
			return nil
		},
	}
}

/*──────────────────────────── settings ─────────────────────────────────────*/

func newSettingsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "settings <tenant-code>",
		Short: "Report which provider settings a tenant has (values are never printed)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := e.codes.Normalize(args[0])
			if err != nil {
				return err
			}
			reg, err := e.openRegistry(cmd.Context())
			if err != nil {
				return err
			}
			settings, err := reg.Settings(cmd.Context(), code, provider.SettingKeys)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			missing := provider.Missing(settings)
			gone := make(map[string]bool, len(missing))
			for _, k := range missing {
				gone[k] = true
			}
			for _, k := range provider.SettingKeys {
				state := "present"
				switch {
				case gone[k]:
					state = "MISSING"
				case strings.TrimSpace(settings[k]) == "":
					state = "unset (deployment default)"
				}
				fmt.Fprintf(out, "%-28s %s\n", k, state)
			}
			if len(missing) > 0 {
				return fmt.Errorf("%s: %d provider setting(s) missing", code, len(missing))
			}
			return nil
		},
	}
}

/*──────────────────────────── window ───────────────────────────────────────*/

func newWindowCmd(e *env) *cobra.Command {
	var (
		last     []string
		outbound []string
		now      string
		hours    int
		policy   string
	)
	cmd := &cobra.Command{
		Use:   "window",
		Short: "Evaluate a session window from message timestamps",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(last) == 0 && len(outbound) == 0 {
				return fmt.Errorf("at least one --last or --outbound timestamp is required")
			}
			ev := window.New(hours, window.ParsePolicy(policy), e.log)
			if now != "" {
				t := window.ParseTimestamp(now)
				if t.IsZero() {
					return fmt.Errorf("--now %q is not a timestamp", now)
				}
				ev.Now = func() time.Time { return t }
			}

			var events []window.Event
			for i, s := range last {
				events = append(events, window.Event{ID: fmt.Sprintf("in-%d", i+1), At: window.ParseTimestamp(s), Direction: window.Inbound})
			}
			for i, s := range outbound {
				events = append(events, window.Event{ID: fmt.Sprintf("out-%d", i+1), At: window.ParseTimestamp(s), Direction: window.Outbound})
			}
			return printDecision(cmd.OutOrStdout(), ev.Evaluate(events))
		},
	}
	cmd.Flags().StringArrayVar(&last, "last", nil, "inbound message time (RFC3339 or 2006-01-02 15:04:05), repeatable")
	cmd.Flags().StringArrayVar(&outbound, "outbound", nil, "outbound message time, repeatable")
	cmd.Flags().StringVar(&now, "now", "", "evaluate as of this time (default: now)")
	cmd.Flags().IntVar(&hours, "hours", window.DefaultHours, "window length in hours")
	cmd.Flags().StringVar(&policy, "policy", string(window.AnyDirection), "any_direction or inbound_only")
	return cmd
}

func printDecision(w io.Writer, d window.Decision) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		window.Decision
		Skipped int `json:"skipped,omitempty"`
	}{d, d.Skipped})
}

/*──────────────────────────── token ────────────────────────────────────────*/

func newTokenCmd(e *env) *cobra.Command {
	var decode bool
	cmd := &cobra.Command{
		Use:   "token <tenant-code|token>...",
		Short: "Mint (or with --decode, read) opaque tenant tokens for share links",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			lines := make([]string, 0, len(args))
			for _, a := range args {
				if decode {
					code, err := e.codes.Decode(a)
					if err != nil {
						return err
					}
					lines = append(lines, a+"\t"+code)
					continue
				}
				code, err := e.codes.Normalize(a)
				if err != nil {
					return err
				}
				lines = append(lines, code+"\t"+e.codes.Encode(code))
			}
			sort.Strings(lines)
			_, err := fmt.Fprintln(out, strings.Join(lines, "\n"))
			return err
		},
	}
	cmd.Flags().BoolVar(&decode, "decode", false, "decode tokens instead of minting")
	return cmd
}
