package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"deepresearch/backend/internal/research"
	"deepresearch/backend/internal/store"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	apiBase string
	budget  int
	follow  bool
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "researchctl",
		Short:         "Start, follow and cancel deep research runs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", envOr("RESEARCH_API", "http://localhost:8080"), "base URL of the research API")

	startCmd := &cobra.Command{
		Use:   "start <topic>",
		Short: "Start a research run",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runStart,
	}
	startCmd.Flags().IntVar(&budget, "budget", 0, "search iteration budget (0 uses the server default)")

	eventsCmd := &cobra.Command{
		Use:   "events <run-id>",
		Short: "Print the progress events of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  runEvents,
	}
	eventsCmd.Flags().BoolVar(&follow, "follow", false, "keep polling until the run finishes")

	root.AddCommand(
		startCmd,
		&cobra.Command{
			Use:   "status <run-id>",
			Short: "Show the current state of a run",
			Args:  cobra.ExactArgs(1),
			RunE:  runStatus,
		},
		eventsCmd,
		&cobra.Command{
			Use:   "cancel <run-id>",
			Short: "Cancel a run and delete its records",
			Args:  cobra.ExactArgs(1),
			RunE:  runCancel,
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type runView struct {
	ID            string         `json:"id"`
	Topic         string         `json:"topic"`
	Status        string         `json:"status"`
	Iteration     int            `json:"iteration"`
	Budget        int            `json:"budget"`
	ResultCount   int            `json:"resultCount"`
	Title         string         `json:"title"`
	Report        string         `json:"report"`
	CoverImageURL string         `json:"coverImageUrl"`
	Sources       []store.Source `json:"sources"`
	CreatedAt     string         `json:"createdAt"`
	UpdatedAt     string         `json:"updatedAt"`
}

type eventsPage struct {
	Events []store.StoredEvent `json:"events"`
	LastID int64               `json:"lastId"`
}

func runStart(cmd *cobra.Command, args []string) error {
	payload := map[string]any{"topic": strings.Join(args, " ")}
	if budget > 0 {
		payload["budget"] = budget
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := http.Post(apiBase+"/v1/research", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return apiError(resp)
	}

	var run runView
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return err
	}
	fmt.Printf("started run %s\n", run.ID)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	run, err := fetchRun(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("run:     %s\n", run.ID)
	fmt.Printf("topic:   %s\n", run.Topic)
	fmt.Printf("status:  %s\n", run.Status)
	if run.Iteration > 0 {
		fmt.Printf("pass:    %d (%d left, %d sources gathered)\n", run.Iteration, run.Budget, run.ResultCount)
	}
	if run.Title != "" {
		fmt.Printf("title:   %s\n", run.Title)
	}
	if run.CoverImageURL != "" {
		fmt.Printf("cover:   %s\n", run.CoverImageURL)
	}
	if len(run.Sources) > 0 {
		fmt.Printf("sources: %d\n", len(run.Sources))
	}
	if run.Report != "" {
		fmt.Printf("\n%s\n", run.Report)
	}
	return nil
}

func runEvents(cmd *cobra.Command, args []string) error {
	runID := args[0]
	var after int64
	for {
		page, err := fetchEvents(runID, after)
		if err != nil {
			return err
		}
		for _, event := range page.Events {
			fmt.Println(event.Describe())
		}
		after = page.LastID

		if !follow {
			return nil
		}
		if len(page.Events) > 0 {
			last := page.Events[len(page.Events)-1]
			if last.Type == research.EventResearchCompleted || last.Type == research.EventError {
				return nil
			}
		}
		time.Sleep(2 * time.Second)
	}
}

func runCancel(cmd *cobra.Command, args []string) error {
	req, err := http.NewRequest(http.MethodDelete, apiBase+"/v1/research/"+args[0], nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return apiError(resp)
	}
	fmt.Printf("canceled run %s\n", args[0])
	return nil
}

func fetchRun(runID string) (runView, error) {
	resp, err := http.Get(apiBase + "/v1/research/" + runID)
	if err != nil {
		return runView{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return runView{}, apiError(resp)
	}

	var run runView
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return runView{}, err
	}
	return run, nil
}

func fetchEvents(runID string, after int64) (eventsPage, error) {
	url := fmt.Sprintf("%s/v1/research/%s/events?after=%d", apiBase, runID, after)
	resp, err := http.Get(url)
	if err != nil {
		return eventsPage{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return eventsPage{}, apiError(resp)
	}

	var page eventsPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return eventsPage{}, err
	}
	return page, nil
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Error.Message != "" {
		return fmt.Errorf("api returned %d: %s", resp.StatusCode, parsed.Error.Message)
	}
	return fmt.Errorf("api returned %d", resp.StatusCode)
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
