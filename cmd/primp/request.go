package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sardanioss/primp/client"
)

type requestFlags struct {
	include bool
	data    string
	json    string
	files   []string
	cookies []string
	bearer  string
	user    string
}

func (r *requestFlags) register(cmd *cobra.Command, body bool) {
	f := cmd.Flags()
	f.BoolVarP(&r.include, "include", "i", false, "print the status line and headers before the body")
	f.StringArrayVar(&r.cookies, "cookie", nil, "request cookie name=value (repeatable)")
	f.StringVar(&r.bearer, "bearer", "", "bearer token")
	f.StringVarP(&r.user, "user", "u", "", "basic auth user:password")
	if body {
		f.StringVarP(&r.data, "data", "d", "", "request body; valid JSON is sent as application/json")
		f.StringVar(&r.json, "json", "", "JSON request body")
		f.StringArrayVarP(&r.files, "form", "F", nil, "multipart file field=path (repeatable)")
	}
}

// build fills req from the flags.
func (r *requestFlags) build(req *client.Request) error {
	if len(r.cookies) > 0 {
		cookies, err := parsePairs(r.cookies, "=")
		if err != nil {
			return err
		}
		req.Cookies = cookies
	}
	if r.bearer != "" {
		req.BearerToken = r.bearer
	}
	if r.user != "" {
		user, pass, _ := strings.Cut(r.user, ":")
		req.Auth = client.NewBasicAuth(user, pass)
	}
	if r.data != "" {
		req.Data = r.data
	}
	if r.json != "" {
		var v any
		if err := json.Unmarshal([]byte(r.json), &v); err != nil {
			return fmt.Errorf("invalid --json: %w", err)
		}
		req.JSON = v
	}
	if len(r.files) > 0 {
		for _, item := range r.files {
			field, path, ok := strings.Cut(item, "=")
			if !ok {
				return fmt.Errorf("invalid --form %q: expected field=path", item)
			}
			f, err := client.FileFromPath(field, path)
			if err != nil {
				return err
			}
			req.Files = append(req.Files, f)
		}
	}
	return nil
}

func newGetCmd(g *globalFlags) *cobra.Command {
	r := &requestFlags{}
	cmd := &cobra.Command{
		Use:   "get URL",
		Short: "Send a GET request and print the response body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, g, r, "GET", args[0])
		},
	}
	r.register(cmd, false)
	return cmd
}

func newRequestCmd(g *globalFlags) *cobra.Command {
	r := &requestFlags{}
	cmd := &cobra.Command{
		Use:   "request METHOD URL",
		Short: "Send a request with any method",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, g, r, strings.ToUpper(args[0]), args[1])
		},
	}
	r.register(cmd, true)
	return cmd
}

func run(cmd *cobra.Command, g *globalFlags, r *requestFlags, method, url string) error {
	c, err := g.newClient(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	req := &client.Request{Method: method, URL: url, Stream: true}
	if err := r.build(req); err != nil {
		return err
	}
	resp, err := c.Do(cmd.Context(), req)
	if err != nil {
		return err
	}
	defer resp.Close()

	out := cmd.OutOrStdout()
	if r.include {
		writeHead(out, resp)
	}
	for chunk, err := range resp.Stream() {
		if err != nil {
			return err
		}
		if _, err := out.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

func writeHead(w io.Writer, resp *client.Response) {
	fmt.Fprintf(w, "%s %s\n", resp.Proto, resp.Status)
	names := make([]string, 0, len(resp.Header))
	for name := range resp.Header {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		for _, v := range resp.Header[name] {
			fmt.Fprintf(w, "%s: %s\n", name, v)
		}
	}
	fmt.Fprintln(w)
}
