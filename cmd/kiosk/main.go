// Command kiosk is the companion process for shared classroom devices. It
// accepts incident submissions while offline, spools them in a local
// sqlite file, and flushes the spool to the server once connectivity and a
// session token are available.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/joho/godotenv"

	"tracktally/core/offline"
	"tracktally/core/utils"
)

type serverSender struct {
	baseURL string
	token   string
	client  *http.Client
}

func (s *serverSender) Send(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/incidents", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// 200 is a confirmed write; a duplicate UUID also comes back 200, so a
	// retried flush drains cleanly.
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return fmt.Errorf("server status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
}

func main() {
	_ = godotenv.Load()

	var (
		queuePath = flag.String("queue", "kiosk-queue.db", "path to the spool file")
		serverURL = flag.String("server", envOr("TRACKTALLY_SERVER_URL", "http://localhost:8080"), "server base url")
		token     = flag.String("token", os.Getenv("TRACKTALLY_SESSION_TOKEN"), "session token for delivery")
	)
	flag.Parse()

	logger := utils.NewLogger()
	queue, err := offline.OpenQueue(*queuePath, logger)
	if err != nil {
		log.Fatalf("open queue: %v", err)
	}
	defer queue.Close()

	ctx := context.Background()
	switch flag.Arg(0) {
	case "enqueue":
		if err := enqueue(ctx, queue, os.Stdin); err != nil {
			log.Fatalf("enqueue: %v", err)
		}
	case "flush":
		if *token == "" {
			log.Fatal("flush needs a session token (-token or TRACKTALLY_SESSION_TOKEN)")
		}
		sender := &serverSender{baseURL: *serverURL, token: *token, client: &http.Client{Timeout: 30 * time.Second}}
		flushed, failed, err := queue.Flush(ctx, sender)
		if err != nil {
			log.Fatalf("flush: %v", err)
		}
		fmt.Printf("flushed=%d failed=%d\n", flushed, failed)
		if failed > 0 {
			os.Exit(1)
		}
	case "count":
		n, err := queue.Count(ctx)
		if err != nil {
			log.Fatalf("count: %v", err)
		}
		fmt.Println(n)
	default:
		fmt.Fprintln(os.Stderr, "usage: kiosk [-queue file] [-server url] [-token t] enqueue|flush|count")
		os.Exit(2)
	}
}

// enqueue reads one submission JSON object from stdin. The client UUID is
// assigned here if missing so the entry is retry-safe from the start.
func enqueue(ctx context.Context, queue *offline.Queue, in io.Reader) error {
	raw, err := io.ReadAll(io.LimitReader(in, 10*1024))
	if err != nil {
		return err
	}
	var sub map[string]any
	if err := json.Unmarshal(raw, &sub); err != nil {
		return fmt.Errorf("invalid submission json: %w", err)
	}
	id, _ := sub["uuid"].(string)
	if id == "" {
		id = uuid.Must(uuid.NewV4()).String()
		sub["uuid"] = id
		if raw, err = json.Marshal(sub); err != nil {
			return err
		}
	}
	if err := queue.Enqueue(ctx, id, raw); err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
