package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	callData  string
	callQuery []string
)

var callCmd = &cobra.Command{
	Use:   "call METHOD PATH",
	Short: "Send an authenticated API request",
	Long: `Send a request to the LMS API with the stored credentials.

An expired access token is refreshed once and the request replayed. The
response body is written to standard output; errors are reported on
standard error with their category.

--data takes a JSON document, or @file to read one, or @- for stdin.

Examples:
  lms-session call GET /api/courses
  lms-session call GET /api/assignments -q course_id=42
  lms-session call POST /api/submissions --data @submission.json`,
	Args: cobra.ExactArgs(2),
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringVarP(&callData, "data", "d", "", "JSON request body, @file or @- for stdin")
	callCmd.Flags().StringArrayVarP(&callQuery, "query", "q", nil, "Query parameter key=value (repeatable)")
	rootCmd.AddCommand(callCmd)
}

// parseQuery turns key=value pairs into url.Values.
func parseQuery(pairs []string) (url.Values, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	q := url.Values{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid query parameter %q (want key=value)", p)
		}
		q.Add(k, v)
	}
	return q, nil
}

// readBody resolves the --data value to JSON bytes.
func readBody(data string, stdin io.Reader) (json.RawMessage, error) {
	if data == "" {
		return nil, nil
	}
	var raw []byte
	var err error
	switch {
	case data == "@-":
		raw, err = io.ReadAll(stdin)
	case strings.HasPrefix(data, "@"):
		raw, err = os.ReadFile(data[1:])
	default:
		raw = []byte(data)
	}
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if !json.Valid(raw) {
		return nil, errors.New("request body is not valid JSON")
	}
	return raw, nil
}

func runCall(cmd *cobra.Command, args []string) error {
	method := strings.ToUpper(args[0])
	path := args[1]
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	query, err := parseQuery(callQuery)
	if err != nil {
		return err
	}
	body, err := readBody(callData, cmd.InOrStdin())
	if err != nil {
		return err
	}

	return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
		resp, err := a.svc.Call(ctx, method, path, query, body)
		if err != nil {
			return err
		}
		if resp.NoContent {
			fmt.Fprintf(cmd.ErrOrStderr(), "%d (no content)\n", resp.Status)
			return nil
		}
		out := cmd.OutOrStdout()
		if _, err := out.Write(resp.Body); err != nil {
			return err
		}
		if len(resp.Body) > 0 && resp.Body[len(resp.Body)-1] != '\n' {
			fmt.Fprintln(out)
		}
		return nil
	})
}
