package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/mwhitney-dev/caseflow/internal/application/port"
	"github.com/mwhitney-dev/caseflow/internal/infrastructure/external/openai"
)

func main() {
	// Parse command line flags
	apiKey := flag.String("key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
	model := flag.String("model", "gpt-4o", "Model to use")
	timeout := flag.Duration("timeout", 30*time.Second, "API call timeout")
	verbose := flag.Bool("verbose", false, "Verbose output")
	flag.Parse()

	// Initialize logger
	var logger *zap.Logger
	var err error
	if *verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Get API key from flag or environment
	if *apiKey == "" {
		*apiKey = os.Getenv("OPENAI_API_KEY")
	}

	if *apiKey == "" {
		fmt.Fprintf(os.Stderr, "ERROR: OPENAI_API_KEY not set and no --key flag provided\n")
		fmt.Fprintf(os.Stderr, "Usage: test-gpt-connection --key sk-... [--model gpt-4o] [--timeout 30s]\n")
		os.Exit(1)
	}

	fmt.Println("=== Decision Collaborator Connection Test ===")

	// Diagnostic info
	fmt.Println("Configuration:")
	fmt.Printf("  Model: %s\n", *model)
	fmt.Printf("  API key length: %d chars\n", len(*apiKey))
	if len(*apiKey) >= 4 {
		fmt.Printf("  API key prefix: %s...\n", (*apiKey)[:4])
	}
	fmt.Printf("  Timeout: %v\n", *timeout)
	fmt.Println()

	collaborator := openai.NewCollaborator(*apiKey, *model, 0.3, logger)
	fmt.Println("✓ Collaborator initialized")
	fmt.Println()

	// Sample brief: a case whose agency reply just arrived
	brief := port.CaseBrief{
		CaseID:        1,
		CaseName:      "Trademark renewal - ACME Corp",
		Status:        "responded",
		LastMessage:   "We received your renewal request. The official fee is $450. Please confirm payment within 14 days.",
		LastMessageID: "msg_smoke_test",
		FollowupCount: 0,
	}

	fmt.Println("Test Case Brief:")
	fmt.Printf("  Case: %s\n", brief.CaseName)
	fmt.Printf("  Status: %s\n", brief.Status)
	fmt.Printf("  Last message: %s\n", brief.LastMessage)
	fmt.Println()

	fmt.Println("Sending request to OpenAI API...")
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	decision, err := collaborator.ProposeNextAction(ctx, brief)
	elapsed := time.Since(start)

	if err != nil {
		fmt.Fprintf(os.Stderr, "\n✗ API call failed after %v: %v\n", elapsed, err)
		os.Exit(1)
	}

	fmt.Printf("✓ API call succeeded in %v\n\n", elapsed)

	fmt.Println("Proposed Next Action:")
	out, _ := json.MarshalIndent(decision, "  ", "  ")
	fmt.Printf("  %s\n", out)

	if decision.ActionType == "" {
		fmt.Fprintln(os.Stderr, "\n✗ Decision has no action type")
		os.Exit(1)
	}

	fmt.Println("\n=== Test passed ===")
}
