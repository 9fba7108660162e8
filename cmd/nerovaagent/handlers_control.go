package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/NerovaAutomation/nerovaagent-sub000/internal/brain"
)

// =============================================================================
// Run Control Command Handlers
// =============================================================================

var controlHTTPClient = &http.Client{Timeout: 10 * time.Second}

func runPause(cmd *cobra.Command, serverURL string) error {
	if err := postControl(cmd.Context(), serverURL, "/v1/run/pause", nil); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Pause requested.")
	return nil
}

func runResume(cmd *cobra.Command, serverURL, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("context text is required")
	}
	if err := postControl(cmd.Context(), serverURL, "/v1/run/context", brain.ControlRequest{Text: text}); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Context delivered; run resuming.")
	return nil
}

func runAbort(cmd *cobra.Command, serverURL string) error {
	if err := postControl(cmd.Context(), serverURL, "/v1/run/abort", nil); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Abort requested.")
	return nil
}

// postControl posts one run-control request and surfaces the server's error
// code when it refuses.
func postControl(ctx context.Context, serverURL, path string, payload any) error {
	body := []byte("{}")
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return err
		}
	}

	url := strings.TrimRight(serverURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := controlHTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("reach server: %w", err)
	}
	defer resp.Body.Close()

	var reply brain.ControlReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return fmt.Errorf("decode reply (HTTP %d): %w", resp.StatusCode, err)
	}
	if !reply.OK {
		if reply.Error != "" {
			return fmt.Errorf("server refused: %s", reply.Error)
		}
		return fmt.Errorf("server refused (HTTP %d)", resp.StatusCode)
	}
	return nil
}
