package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"photomap/internal/logging"
	"photomap/internal/workers"
)

const requestTimeout = 2 * time.Minute

type uploadResponse struct {
	Status  string `json:"status"`
	PhotoID int64  `json:"photoId,omitempty"`
	Message string `json:"message,omitempty"`
}

type counters struct {
	mu         sync.Mutex
	uploaded   int
	duplicates int
	failed     int
}

func (c *counters) record(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch status {
	case "ok":
		c.uploaded++
	case "duplicate":
		c.duplicates++
	default:
		c.failed++
	}
}

func main() {
	serverURL := flag.String("server", "http://127.0.0.1:8080", "photomap server base URL")
	sourceDir := flag.String("dir", ".", "directory to scan for photos")
	workerCount := flag.Int("workers", 0, "parallel upload workers (0 = one per CPU)")
	flag.Parse()

	secret := os.Getenv("UPLOAD_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "Error: UPLOAD_SECRET must be set")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
		cancel()
	}()

	paths := make(chan string)
	go func() {
		defer close(paths)
		err := filepath.WalkDir(*sourceDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !isJPEG(d.Name()) {
				return nil
			}
			select {
			case paths <- path:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil && ctx.Err() == nil {
			logging.Error("cannot walk %s: %v", *sourceDir, err)
		}
	}()

	client := &http.Client{Timeout: requestTimeout}
	uploadURL := strings.TrimRight(*serverURL, "/") + "/api/photos"

	var tally counters
	var wg sync.WaitGroup
	for i := 0; i < workers.Count(*workerCount); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range paths {
				status, err := uploadPhoto(ctx, client, uploadURL, secret, path)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					logging.Warn("cannot upload %s: %v", path, err)
					tally.record("error")
					continue
				}
				logging.Debug("uploaded %s: %s", path, status)
				tally.record(status)
			}
		}()
	}
	wg.Wait()

	logging.Info("import finished: %d uploaded, %d duplicates, %d failed",
		tally.uploaded, tally.duplicates, tally.failed)
	if tally.failed > 0 {
		os.Exit(1)
	}
}

func isJPEG(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".jpg") || strings.HasSuffix(lower, ".jpeg")
}

// uploadPhoto posts one file as a multipart form and returns the
// server-reported status.
func uploadPhoto(ctx context.Context, client *http.Client, url, secret, path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	dir, filename := filepath.Split(path)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("photo", filename)
	if err != nil {
		return "", err
	}
	if _, err = part.Write(raw); err != nil {
		return "", err
	}
	if err = form.WriteField("filename", filename); err != nil {
		return "", err
	}
	if err = form.WriteField("path", strings.Trim(dir, string(filepath.Separator))); err != nil {
		return "", err
	}
	if err = form.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authentication", secret)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	var result uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("unexpected response (HTTP %d): %w", resp.StatusCode, err)
	}
	if result.Status == "" {
		return "", fmt.Errorf("unexpected response (HTTP %d)", resp.StatusCode)
	}
	return result.Status, nil
}
