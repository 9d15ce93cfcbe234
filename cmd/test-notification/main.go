package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/mwhitney-dev/caseflow/internal/config"
	"github.com/mwhitney-dev/caseflow/internal/infrastructure/external/lark"
)

// Isolated test for Lark operator notifications. Sends a sample pending
// proposal notice (and optionally an escalation) to the configured ops chat
// without standing up the rest of the system.

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	escalation := flag.Bool("escalation", false, "Also send a test escalation notice")
	timeout := flag.Duration("timeout", 15*time.Second, "API call timeout")
	flag.Parse()

	fmt.Println("=== Lark Notification Test ===")
	fmt.Println()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Lark.AppID == "" || cfg.Lark.AppSecret == "" {
		log.Fatal("LARK_APP_ID / LARK_APP_SECRET not configured")
	}
	if cfg.Lark.OpsChatID == "" {
		log.Fatal("LARK_OPS_CHAT_ID not configured")
	}

	fmt.Printf("App ID: %s...%s\n", cfg.Lark.AppID[:4], cfg.Lark.AppID[len(cfg.Lark.AppID)-4:])
	fmt.Printf("Ops chat: %s\n", cfg.Lark.OpsChatID)

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	notifier := lark.NewNotifier(lark.Config{
		AppID:     cfg.Lark.AppID,
		AppSecret: cfg.Lark.AppSecret,
		OpsChatID: cfg.Lark.OpsChatID,
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	fmt.Println("\n[Step 1] Sending pending proposal notice...")
	err = notifier.NotifyPendingProposal(ctx, 0, 0, "send_follow_up",
		"Smoke test: follow-up draft awaiting review (not a real case)")
	if err != nil {
		log.Fatalf("Failed to send proposal notice: %v", err)
	}
	fmt.Println("✓ Proposal notice delivered")

	if *escalation {
		fmt.Println("\n[Step 2] Sending escalation notice...")
		err = notifier.NotifyEscalation(ctx, 0, "Smoke test escalation (not a real case)")
		if err != nil {
			log.Fatalf("Failed to send escalation notice: %v", err)
		}
		fmt.Println("✓ Escalation notice delivered")
	}

	fmt.Println("\n=== Test passed ===")
}
