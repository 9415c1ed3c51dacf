package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cyp0633/caldora/internal/httpclient"
)

var probeOpts struct {
	url      string
	user     string
	password string
	sync     string
	timeout  time.Duration
}

// probeCmd walks a CalDAV server the way a client does on first contact:
// principal, home set, then the collections under it.
var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Discover the calendars of an account on a CalDAV server",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger("warn")
		if err != nil {
			return err
		}
		base, err := url.Parse(probeOpts.url)
		if err != nil {
			return fmt.Errorf("invalid --url: %w", err)
		}
		password := probeOpts.password
		if password == "" {
			password = os.Getenv("CALDORA_PASSWORD")
		}

		httpClient := &http.Client{
			Transport: httpclient.NewBasicAuthTransport(probeOpts.user, password, nil, logger),
			Timeout:   probeOpts.timeout,
		}
		client, err := httpclient.New(httpClient, *base, logger)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		principal, err := client.Principal(ctx, base.Path)
		if err != nil {
			return err
		}
		home, err := client.HomeSet(ctx, principal)
		if err != nil {
			return err
		}
		colls, err := client.Collections(ctx, home)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "principal: %s\nhome set:  %s\n\n", principal, home)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "HREF\tNAME\tCOMPONENTS\tWRITE\tSYNC TOKEN")
		for _, c := range colls {
			fmt.Fprintf(tw, "%s\t%s\t%v\t%t\t%s\n", c.Href, c.DisplayName, c.Components, c.CanWrite, c.SyncToken)
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		if probeOpts.sync == "" {
			return nil
		}
		members, token, err := client.SyncCollection(ctx, probeOpts.sync, "", false, 0)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%s: %d members, token %s\n", probeOpts.sync, len(members), token)
		for _, m := range members {
			fmt.Fprintf(out, "  %s %s\n", m.ETag, m.Href)
		}
		return nil
	},
}

func init() {
	f := probeCmd.Flags()
	f.StringVar(&probeOpts.url, "url", "http://127.0.0.1:5232/caldav/", "service root URL")
	f.StringVarP(&probeOpts.user, "user", "u", "", "user name")
	f.StringVarP(&probeOpts.password, "password", "p", "", "password, defaults to $CALDORA_PASSWORD")
	f.StringVar(&probeOpts.sync, "sync", "", "also list the members of this collection href")
	f.DurationVar(&probeOpts.timeout, "timeout", 30*time.Second, "request timeout")
	_ = probeCmd.MarkFlagRequired("user")
}
