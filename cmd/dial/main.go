package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/troikatech/pbx-voice-bridge/pkg/auth"
	"github.com/troikatech/pbx-voice-bridge/pkg/client"
	"github.com/troikatech/pbx-voice-bridge/pkg/env"
	"github.com/troikatech/pbx-voice-bridge/pkg/retry"
)

func main() {
	endpoint := flag.String("endpoint", "", "full dial string, e.g. PJSIP/1001")
	callerID := flag.String("caller-id", "", "caller id override")
	exten := flag.String("exten", "", "dialplan extension")
	dialContext := flag.String("context", "", "dialplan context")
	flag.Parse()

	// A bare argument is a number to call through the configured template.
	to := strings.TrimSpace(flag.Arg(0))
	if *endpoint == "" && to == "" {
		log.Fatalf("usage: dial [-endpoint PJSIP/1001] [+919876543210]")
	}

	baseURL := "http://localhost:8080"
	if url := os.Getenv("API_URL"); url != "" {
		baseURL = strings.TrimRight(url, "/")
	}

	fmt.Println("========================================")
	fmt.Printf("Dialing %s\n", firstNonEmpty(*endpoint, to))
	fmt.Println("========================================")

	fmt.Println("Step 1: Getting access token...")
	token := os.Getenv("API_TOKEN")
	if token == "" {
		cfg, err := env.Load(".env")
		if err != nil {
			log.Fatalf("No API_TOKEN set and config could not be loaded: %v", err)
		}
		token, _, err = auth.GenerateAccessToken("cli", auth.RoleOperator, cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, 5*time.Minute)
		if err != nil {
			log.Fatalf("Failed to mint token: %v", err)
		}
	}
	fmt.Println("✅ Token ready")

	fmt.Println("Step 2: Originating call...")
	httpClient := client.NewHTTPClient("bridge-api", 30*time.Second).WithRetry(retry.DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// The same key on every retry, so the call is placed once.
	headers := map[string]string{
		"Authorization":   "Bearer " + token,
		"Idempotency-Key": uuid.NewString(),
	}
	body := map[string]string{
		"endpoint": *endpoint,
		"to":       to,
		"callerId": *callerID,
		"exten":    *exten,
		"context":  *dialContext,
	}

	resp, err := httpClient.PostJSON(ctx, baseURL+"/dial", headers, body)
	if err != nil {
		var statusErr *client.StatusError
		if errors.As(err, &statusErr) {
			fmt.Printf("❌ Dial failed (Status: %d)\n", statusErr.StatusCode)
			fmt.Println("Response:", statusErr.Body)
			os.Exit(1)
		}
		log.Fatalf("Failed to reach bridge: %v", err)
	}

	var result struct {
		ChannelID string `json:"channel_id"`
	}
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		fmt.Println("Response:", string(resp.Body))
		return
	}

	fmt.Println("✅ Call originated!")
	fmt.Printf("Channel: %s\n", result.ChannelID)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
