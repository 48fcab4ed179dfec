package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"LeadFlow/sdk/go/leadflow"
)

// This example talks to an in-process fake of the run API. Point NewClient at
// a real `leadflow serve` address to use it against a server.
func main() {
	var polls int
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(leadflow.Run{ID: "run-demo", Status: leadflow.StatusPending, MaxRetries: 1})
	})
	mux.HandleFunc("GET /api/v1/runs/run-demo", func(w http.ResponseWriter, r *http.Request) {
		polls++
		run := leadflow.Run{ID: "run-demo", Status: leadflow.StatusRunning, Attempts: 1, MaxRetries: 1}
		if polls > 1 {
			run.Status = leadflow.StatusSucceeded
			run.Result = &leadflow.RunResult{Steps: 7, Leads: []leadflow.Lead{{
				FullName:     "Ada Lovelace",
				CompanyName:  "Engines Ltd",
				EmailSubject: "Analytical engines for your team",
			}}}
		}
		_ = json.NewEncoder(w).Encode(run)
	})
	mux.HandleFunc("GET /api/v1/runs/run-demo/leads.xlsx", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("xlsx-bytes"))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := leadflow.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	run, err := client.SubmitRun(ctx, leadflow.RunSubmission{Instructions: "Find five CTOs of 50-200 person SaaS companies."})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted run %s (status=%s)\n", run.ID, run.Status)

	run, err = client.WaitRun(ctx, run.ID, 50*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("run %s finished with status=%s after %d steps\n", run.ID, run.Status, run.Result.Steps)
	for _, lead := range run.Result.Leads {
		fmt.Printf("  %s @ %s: %q\n", lead.FullName, lead.CompanyName, lead.EmailSubject)
	}

	var workbook bytes.Buffer
	if err := client.DownloadLeads(ctx, run.ID, &workbook); err != nil {
		panic(err)
	}
	fmt.Printf("downloaded %d bytes of leads workbook\n", workbook.Len())
}
