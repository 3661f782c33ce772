package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Services  struct {
		Database struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		} `json:"database"`
	} `json:"services"`
}

// Usage: health-test [base-url]
func main() {
	baseURL := "http://localhost:8080"
	if len(os.Args) > 1 {
		baseURL = strings.TrimSuffix(os.Args[1], "/")
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	ok := checkHealth(client, baseURL+"/health")
	ok = checkMetrics(client, baseURL+"/metrics") && ok
	if !ok {
		os.Exit(1)
	}
	fmt.Printf("✅ All checks passed!\n")
}

func fetch(client *http.Client, url string) (int, []byte, error) {
	resp, err := client.Get(url)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	return resp.StatusCode, body, err
}

func checkHealth(client *http.Client, url string) bool {
	fmt.Printf("🔍 Testing health endpoint: %s\n", url)

	status, body, err := fetch(client, url)
	if err != nil {
		fmt.Printf("❌ Error connecting to health endpoint: %v\n", err)
		return false
	}
	fmt.Printf("📊 Response Status: %d\n", status)

	var health HealthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		fmt.Printf("❌ Error parsing JSON response: %v\n", err)
		return false
	}

	if status != http.StatusOK || health.Status != "ok" {
		fmt.Printf("❌ Health status is not 'ok': %s\n", health.Status)
		if health.Services.Database.Error != "" {
			fmt.Printf("   Database error: %s\n", health.Services.Database.Error)
		}
		return false
	}

	fmt.Printf("✅ Health check passed!\n")
	fmt.Printf("   Version: %s\n", health.Version)
	fmt.Printf("   Database: %s\n", health.Services.Database.Status)
	fmt.Printf("   Timestamp: %s\n", health.Timestamp)
	return true
}

func checkMetrics(client *http.Client, url string) bool {
	fmt.Printf("🔍 Testing metrics endpoint: %s\n", url)

	status, body, err := fetch(client, url)
	if err != nil {
		fmt.Printf("❌ Error connecting to metrics endpoint: %v\n", err)
		return false
	}
	if status != http.StatusOK {
		fmt.Printf("❌ Metrics endpoint returned status: %d\n", status)
		return false
	}
	if !strings.Contains(string(body), "snaprepair_") {
		fmt.Printf("❌ Metrics response has no snaprepair_ series\n")
		return false
	}

	fmt.Printf("✅ Metrics check passed!\n")
	return true
}
