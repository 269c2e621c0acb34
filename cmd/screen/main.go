// Command screen runs a single eligibility screening from the command line
// and writes the markdown report to stdout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/careforge/trialscreen/internal/screening"
	"github.com/careforge/trialscreen/internal/trialstore"
)

func main() {
	patientPath := flag.String("patient", "", "path to patient JSON file (required)")
	protocolPath := flag.String("protocol", "", "path to trial protocol text file")
	trialID := flag.String("trial-id", "", "trial ID to resolve from the database instead of -protocol")
	dbPath := flag.String("db", "trialscreen.db", "path to the trial database (used with -trial-id)")
	asJSON := flag.Bool("json", false, "print the full outcome as JSON instead of the markdown report")
	ruleOnly := flag.Bool("rule-only", false, "skip the generative backend even when configured")
	flag.Parse()

	if *patientPath == "" {
		flag.Usage()
		log.Fatal("missing required -patient flag")
	}
	if *protocolPath == "" && *trialID == "" {
		flag.Usage()
		log.Fatal("one of -protocol or -trial-id is required")
	}

	patientBlob, err := os.ReadFile(*patientPath)
	if err != nil {
		log.Fatalf("reading patient file: %v", err)
	}
	var patient map[string]any
	if err := json.Unmarshal(patientBlob, &patient); err != nil {
		log.Fatalf("parsing patient JSON: %v", err)
	}

	req := screening.ScreeningRequest{PatientData: patient, TrialID: *trialID}
	if *protocolPath != "" {
		protocolBlob, err := os.ReadFile(*protocolPath)
		if err != nil {
			log.Fatalf("reading protocol file: %v", err)
		}
		req.TrialProtocol = string(protocolBlob)
	}

	var trials screening.TrialSource
	if *trialID != "" && req.TrialProtocol == "" {
		store, err := trialstore.NewStore(*dbPath)
		if err != nil {
			log.Fatalf("opening trial database (%s): %v", *dbPath, err)
		}
		defer store.Close()
		trials = store
	}

	var primary screening.StageRunner
	if !*ruleOnly {
		if gen, err := screening.NewAnthropicGeneratorFromEnv(); err == nil {
			primary = screening.NewLLMStageRunner(screening.NewStageExecutor(screening.NewBreakerGenerator(gen), 0))
		} else {
			log.Printf("generative backend unavailable (%v), using rule-based screening", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pipeline := screening.NewPipeline(primary, nil, trials, screening.Config{})
	outcome, err := pipeline.ScreenWithProgress(ctx, req, func(step screening.Step, message string) {
		log.Printf("[%s] %s", step, message)
	})
	if err != nil {
		log.Fatalf("screening failed: %v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(outcome); err != nil {
			log.Fatalf("encoding outcome: %v", err)
		}
		return
	}

	fmt.Println(outcome.ReportMarkdown)
	log.Printf("decision=%s confidence=%.2f review=%t fallback_stages=%d",
		outcome.Decision, outcome.Confidence, outcome.RequiresHumanReview, len(outcome.FallbackSteps))
}
