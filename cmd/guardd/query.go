package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/pushchain/bridge-guard/guard/config"
)

// Output formats
const (
	OutputFormatYAML = "yaml"
	OutputFormatJSON = "json"
)

// ErrorResponse represents an error response from HTTP API
type ErrorResponse struct {
	Error string `json:"error"`
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

func queryCmd() *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:     "query",
		Aliases: []string{"q"},
		Short:   "Query the local guard's HTTP API",
	}
	cmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", OutputFormatYAML, "Output format (yaml|json)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "turn",
			Short: "Show the active guard and the time left in the turn",
			RunE: func(cmd *cobra.Command, args []string) error {
				return queryAndPrint(http.MethodGet, "/api/v1/turn", nil, outputFormat)
			},
		},
		listCmd("events", "List stored events (open events by default)", &outputFormat),
		listCmd("transactions", "List agreed transactions (unfinished by default)", &outputFormat),
		&cobra.Command{
			Use:   "order <order-id>",
			Short: "Show an order",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return queryAndPrint(http.MethodGet, "/api/v1/orders/"+url.PathEscape(args[0]), nil, outputFormat)
			},
		},
		submitOrderCmd(&outputFormat),
	)
	return cmd
}

func listCmd(resource, short string, outputFormat *string) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   resource,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/" + resource
			if status != "" {
				path += "?status=" + url.QueryEscape(status)
			}
			return queryAndPrint(http.MethodGet, path, nil, *outputFormat)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Comma separated statuses to list")
	return cmd
}

func submitOrderCmd(outputFormat *string) *cobra.Command {
	var network string

	cmd := &cobra.Command{
		Use:   "submit-order <order-id> <order-json-file>",
		Short: "Submit an arbitrary order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			order, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("failed to read order: %w", err)
			}
			body, err := json.Marshal(map[string]any{
				"order_id": args[0],
				"network":  network,
				"order":    json.RawMessage(order),
			})
			if err != nil {
				return fmt.Errorf("order file is not valid JSON: %w", err)
			}
			return queryAndPrint(http.MethodPost, "/api/v1/orders", body, *outputFormat)
		},
	}
	cmd.Flags().StringVar(&network, "network", "", "Network the order pays on")
	_ = cmd.MarkFlagRequired("network")
	return cmd
}

func queryAndPrint(method, path string, body []byte, format string) error {
	port, err := getQueryServerPort()
	if err != nil {
		return err
	}

	req, err := http.NewRequest(method, fmt.Sprintf("http://localhost:%d%s", port, path), bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to query guard: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var errResp ErrorResponse
		if err := json.Unmarshal(raw, &errResp); err != nil || errResp.Error == "" {
			return fmt.Errorf("server returned status %d", resp.StatusCode)
		}
		return fmt.Errorf("server error: %s", errResp.Error)
	}

	var data interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return printOutput(os.Stdout, data, format)
}

// getQueryServerPort loads the config to get the query server port
func getQueryServerPort() (int, error) {
	loadedCfg, err := config.Load(homeFlag)
	if err != nil {
		return 0, fmt.Errorf("failed to load config: %w", err)
	}
	return loadedCfg.QueryServerPort, nil
}

// printOutput prints the output in the specified format
func printOutput(w io.Writer, data interface{}, format string) error {
	switch format {
	case OutputFormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(data)
	case OutputFormatYAML:
		encoder := yaml.NewEncoder(w)
		defer encoder.Close()
		return encoder.Encode(data)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}
