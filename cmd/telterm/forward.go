package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const forwardTimeout = 3 * time.Second

// forwardLinks posts telnet links to an instance already serving at
// baseURL.
func forwardLinks(ctx context.Context, baseURL, token string, links []string) error {
	body, err := json.Marshal(map[string][]string{"urls": links})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, forwardTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/actions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("running instance answered %s", resp.Status)
	}
	return nil
}
