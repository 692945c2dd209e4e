package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

type slot struct {
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
	AllDay         bool   `json:"all_day"`
	Disabled       bool   `json:"disabled"`
	DisabledReason string `json:"disabled_reason"`
	CapacityLabel  string `json:"capacity_label"`
}

type availability struct {
	ResourceID   string `json:"resource_id"`
	ResourceName string `json:"resource_name"`
	Date         string `json:"date"`
	Timezone     string `json:"timezone"`
	Sections     []struct {
		Name  string `json:"name"`
		Slots []slot `json:"slots"`
	} `json:"sections"`
	Unavailable []struct {
		StartTime string `json:"start_time"`
		EndTime   string `json:"end_time"`
		Reason    string `json:"reason"`
	} `json:"unavailable"`
	Message string `json:"message"`
}

type client struct {
	base string
	user string
	http *http.Client
}

func newClient(cmd *cobra.Command) client {
	base, _ := cmd.Flags().GetString("base-url")
	user, _ := cmd.Flags().GetString("user")
	return client{
		base: strings.TrimRight(base, "/"),
		user: user,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", c.user)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status=%d %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func availabilityCmd() *cobra.Command {
	var (
		resource string
		date     string
		refresh  bool
	)
	cmd := &cobra.Command{
		Use:   "availability",
		Short: "Print the slots of a resource for one date",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{"resource_id": {resource}, "date": {date}}
			if refresh {
				q.Set("refresh", "true")
			}
			var av availability
			if err := newClient(cmd).do(cmd.Context(), http.MethodGet, "/api/v1/availability?"+q.Encode(), nil, &av); err != nil {
				return err
			}
			return printAvailability(cmd.OutOrStdout(), av)
		},
	}
	cmd.Flags().StringVar(&resource, "resource", "", "resource id")
	cmd.Flags().StringVar(&date, "date", time.Now().Format("2006-01-02"), "resource-local date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the availability cache")
	_ = cmd.MarkFlagRequired("resource")
	return cmd
}

func printAvailability(out io.Writer, av availability) error {
	fmt.Fprintf(out, "%s %s (%s)\n", firstNonEmpty(av.ResourceName, av.ResourceID), av.Date, av.Timezone)
	if av.Message != "" {
		fmt.Fprintln(out, av.Message)
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SECTION\tSTART\tEND\tSTATE\tCAPACITY")
	for _, s := range av.Sections {
		for _, sl := range s.Slots {
			state := "open"
			if sl.Disabled {
				state = "disabled: " + sl.DisabledReason
			}
			end := sl.EndTime
			if sl.AllDay {
				end = "all day"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.Name, sl.StartTime, end, state, sl.CapacityLabel)
		}
	}
	for _, u := range av.Unavailable {
		fmt.Fprintf(w, "unavailable\t%s\t%s\t%s\t\n", u.StartTime, u.EndTime, u.Reason)
	}
	return w.Flush()
}

func blockCmd() *cobra.Command {
	var resource, start, end, reason, note string
	cmd := &cobra.Command{
		Use:   "block",
		Short: "Block out a period for a resource",
		RunE: func(cmd *cobra.Command, _ []string) error {
			body := map[string]string{
				"resource_id": resource,
				"start_time":  start,
				"end_time":    end,
				"reason":      reason,
				"note":        note,
			}
			var created struct {
				BlockID string `json:"block_id"`
			}
			if err := newClient(cmd).do(cmd.Context(), http.MethodPost, "/api/v1/unavailability", body, &created); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "block_id=%s\n", created.BlockID)
			return nil
		},
	}
	cmd.Flags().StringVar(&resource, "resource", "", "resource id")
	cmd.Flags().StringVar(&start, "start", "", "RFC 3339 start")
	cmd.Flags().StringVar(&end, "end", "", "RFC 3339 end")
	cmd.Flags().StringVar(&reason, "reason", "", "reason shown on the calendar")
	cmd.Flags().StringVar(&note, "note", "", "optional note")
	for _, f := range []string{"resource", "start", "end"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
