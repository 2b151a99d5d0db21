// Package main runs a demo WebSocket client that triggers a sync and prints the job and sync events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsEvent struct {
	Type string          `json:"type"`
	At   string          `json:"at,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: ws_client <integration-id> [action]")
	}
	integrationID := os.Args[1]
	action := "all"
	if len(os.Args) > 2 {
		action = os.Args[2]
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	company := os.Getenv("COMPANY_ID")
	if company == "" {
		company = "c_demo"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Connect WS first so the job.started event is not missed
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/events/ws", RawQuery: "types=job.,sync."}
	hdr := http.Header{}
	hdr.Set("X-Company-Id", company)
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for {
			var m wsEvent
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Data))
			if m.Type == "sync.finished" || m.Type == "job.failed" {
				return
			}
		}
	}()

	// Queue the sync
	body, _ := json.Marshal(map[string]string{"action": action})
	req, _ := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/v1/integrations/%s/sync", base, integrationID), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Company-Id", company)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var out struct {
		JobID string `json:"jobId"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	log.Printf("sync queued: status=%d job=%s", resp.StatusCode, out.JobID)
	if resp.StatusCode != http.StatusAccepted {
		return
	}

	select {
	case <-time.After(2 * time.Minute):
		log.Print("timed out waiting for sync")
	case <-finished:
	}
}
