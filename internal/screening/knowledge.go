package screening

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// BuildContextQueries derives retrieval queries from a patient profile:
// guidelines and eligibility per diagnosis, interactions when the patient is
// on two or more drugs, contraindications for the first few drugs, and
// eligibility context per lab test.
func BuildContextQueries(profile PatientProfile) []string {
	var queries []string

	for _, dx := range profile.Diagnoses {
		if dx.Condition == "" {
			continue
		}
		queries = append(queries, "Clinical guidelines for "+dx.Condition)
		queries = append(queries, "Eligibility criteria "+dx.Condition)
	}

	var drugNames []string
	for _, med := range profile.Medications {
		if med.DrugName != "" {
			drugNames = append(drugNames, med.DrugName)
		}
	}
	if len(drugNames) >= 2 {
		limit := len(drugNames)
		if limit > 3 {
			limit = 3
		}
		queries = append(queries, "Drug interactions between "+strings.Join(drugNames[:limit], " and "))
	}
	for i, drug := range drugNames {
		if i == 3 {
			break
		}
		queries = append(queries, drug+" contraindications clinical trial")
	}

	for _, lab := range profile.LabValues {
		if lab.TestName != "" {
			queries = append(queries, lab.TestName+" eligibility criteria clinical trial")
		}
	}

	return queries
}

// RetrieveContext issues at most maxQueries retrieval queries concurrently.
// Results are concatenated in query-submission order once all complete. A
// failed query contributes nothing and is reported in the returned failure
// list; it never fails the stage.
func RetrieveContext(ctx context.Context, retriever Retriever, queries []string, topK, maxQueries int) ([]RetrievedDocument, []string, []string) {
	if retriever == nil || len(queries) == 0 {
		return nil, nil, nil
	}
	if len(queries) > maxQueries {
		queries = queries[:maxQueries]
	}

	perQuery := make([][]RetrievedDocument, len(queries))
	failures := make([]string, len(queries))

	var wg sync.WaitGroup
	for i, query := range queries {
		wg.Add(1)
		go func(i int, query string) {
			defer wg.Done()
			results, err := retriever.Search(ctx, query, topK)
			if err != nil {
				failures[i] = fmt.Sprintf("Retrieval error for query %q: %v", query, err)
				return
			}
			perQuery[i] = results
		}(i, query)
	}
	wg.Wait()

	var docs []RetrievedDocument
	for _, results := range perQuery {
		docs = append(docs, results...)
	}
	var failed []string
	for _, f := range failures {
		if f != "" {
			failed = append(failed, f)
		}
	}
	return docs, queries, failed
}

// assembleContext is the rule-based knowledge stage: the raw retrieved
// documents pass through unsynthesized.
func assembleContext(queries []string, docs []RetrievedDocument) MedicalContext {
	if queries == nil {
		queries = []string{}
	}
	if docs == nil {
		docs = []RetrievedDocument{}
	}
	return MedicalContext{
		QueriesExecuted:    queries,
		RetrievedContext:   docs,
		DrugInteractions:   []string{},
		RelevantGuidelines: []string{},
		PotentialConcerns:  []string{},
	}
}
