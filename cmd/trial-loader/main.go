// Command trial-loader ingests trial protocol text files into the trial
// database, splitting them into sections on all-caps headers so retrieval
// and screening can address them individually.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"unicode"

	"github.com/careforge/trialscreen/internal/trialstore"
)

func main() {
	dbPath := flag.String("db", "trialscreen.db", "path to the trial database")
	trialID := flag.String("trial-id", "", "trial ID to store the protocol under (required)")
	title := flag.String("title", "", "trial title")
	condition := flag.String("condition", "", "condition under study")
	flag.Parse()

	if *trialID == "" {
		flag.Usage()
		log.Fatal("missing required -trial-id flag")
	}
	if flag.NArg() != 1 {
		flag.Usage()
		log.Fatal("exactly one protocol file argument is required")
	}

	blob, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		log.Fatalf("reading protocol file: %v", err)
	}

	sections := splitSections(string(blob))
	docs := make([]trialstore.TrialDocument, 0, len(sections))
	for _, sec := range sections {
		docs = append(docs, trialstore.TrialDocument{
			Section:   sec.name,
			Title:     *title,
			Condition: *condition,
			Document:  sec.body,
		})
	}
	if len(docs) == 0 {
		log.Fatal("protocol file contains no text")
	}

	store, err := trialstore.NewStore(*dbPath)
	if err != nil {
		log.Fatalf("opening trial database (%s): %v", *dbPath, err)
	}
	defer store.Close()

	if err := store.PutTrial(context.Background(), *trialID, docs); err != nil {
		log.Fatalf("storing trial: %v", err)
	}
	log.Printf("stored trial %s (%d sections) in %s", *trialID, len(docs), *dbPath)
}

type section struct {
	name string
	body string
}

// splitSections breaks a protocol into sections at all-caps header lines
// such as "INCLUSION CRITERIA:". Text before the first header becomes the
// "protocol" section.
func splitSections(text string) []section {
	var out []section
	current := section{name: "protocol"}
	var body strings.Builder

	flush := func() {
		if trimmed := strings.TrimSpace(body.String()); trimmed != "" {
			current.body = trimmed
			out = append(out, current)
		}
		body.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		if isSectionHeader(line) {
			flush()
			name := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(line), ":"))
			current = section{name: strings.ReplaceAll(name, " ", "_")}
			body.WriteString(line + "\n")
			continue
		}
		body.WriteString(line + "\n")
	}
	flush()
	return out
}

func isSectionHeader(line string) bool {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) < 4 {
		return false
	}
	hasLetter := false
	for _, r := range trimmed {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}
