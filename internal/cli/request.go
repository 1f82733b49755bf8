package cli

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/theamanone/encstream/internal/client"
	"github.com/theamanone/encstream/internal/proxy"
)

func newRequestCmd(a *app) *cobra.Command {
	var (
		method  string
		headers []string
		data    string
	)

	cmd := &cobra.Command{
		Use:   "request <endpoint>",
		Short: "Send a request through the sealed proxy",
		Long: `Seal a request description, send it to the sealed proxy (PROXY_URL) and print the opened response.

The target endpoint, method, headers and body are all inside the envelope.

Example:
  encstream request https://api.example.com/items --method POST --header "X-Trace: 1" --data '{"name":"x"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := a.resolveSecret()
			if err != nil {
				return err
			}

			reqInit := proxy.RequestInit{
				Method:  strings.ToUpper(method),
				Headers: make(map[string]string, len(headers)),
			}
			for _, h := range headers {
				k, v, ok := strings.Cut(h, ":")
				if !ok || strings.TrimSpace(k) == "" {
					return fmt.Errorf("invalid header %q: expected \"Name: value\"", h)
				}
				reqInit.Headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
			}
			if cmd.Flags().Changed("data") {
				reqInit.Body = &data
			}

			c, err := client.New(secret, a.cfg.ProxyURL,
				client.WithHTTPClient(&http.Client{Timeout: a.cfg.ClientTimeout}),
				client.WithDebugger(client.NewDebugger(a.cfg.Debug, a.appLogger)),
				client.WithLogger(a.appLogger),
			)
			if err != nil {
				return err
			}

			resp, err := c.MakeSecureRequest(cmd.Context(), args[0], reqInit)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "upstream status: %d\n", resp.UpstreamStatus)
			return writeJSON(cmd, resp.Data)
		},
	}

	cmd.Flags().StringVarP(&method, "method", "X", http.MethodGet, "HTTP method")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "request header as \"Name: value\" (repeatable)")
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body")

	return cmd
}
