package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
)

var version = "dev"

// loadEnvFile reads ~/.modelhub/env and sets any keys not already present in
// the process environment.
func loadEnvFile() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	_ = godotenv.Load(filepath.Join(home, ".modelhub", "env"))
}

func main() {
	loadEnvFile()
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "version", "--version", "-v":
		fmt.Printf("modelhubctl %s\n", version)
	case "status":
		doStatus()
	case "health":
		doHealth()
	case "model", "models":
		doModels(args)
	case "select":
		doSelect(args)
	case "optimal":
		doOptimal(args)
	case "module":
		doModule(args)
	case "pref", "prefs":
		doPrefs(args)
	case "perf":
		doPerf(args)
	case "load":
		doLoad()
	case "logs":
		doLogs(args)
	case "stats":
		doStats()
	case "events":
		doEvents(args)
	case "help", "--help", "-h":
		usageTo(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	usageTo(os.Stderr)
}

func usageTo(w io.Writer) {
	_, _ = fmt.Fprintf(w, `modelhubctl: CLI for the modelhub API

Usage: modelhubctl <command> [arguments]

Environment:
  MODELHUB_URL          Base URL (default: http://localhost:8090)

  ~/.modelhub/env       Auto-sourced on startup.
                        Explicit environment variables take precedence.

Commands:
  status                        Show registry and provider counts
  health                        Show provider health stats

  model list                    List all registered models
  model add <json>              Create or update a model
  model delete <id>             Delete a model

  select <module> [task] [json] Pick the best model for a module task
  optimal <json>                Rank the top 3 models for raw requirements
  module <name>                 List models available to a module

  pref set <module> <id> <score>  Set a module preference score
  pref delete <module> <id>       Remove a module preference

  perf <id>                     Show performance history for a model
  perf <id> <json>              Record a performance update

  load                          Show provider load-balancing info
  logs [--limit N]              Show intercepted provider requests
  stats                         Show aggregated request stats
  events [types]                Stream real-time SSE events

  version                       Show version
  help                          Show this help

Examples:
  modelhubctl model add '{"id":"gpt4o","provider":"openai","model_id":"gpt-4o","capabilities":["reasoning","vision"],"priority":10}'
  modelhubctl select inventory classify '{"requires_vision":true,"max_latency":2000}'
  modelhubctl pref set inventory gpt4o 50
  modelhubctl perf gpt4o '{"latency":640,"success_rate":0.97}'
  modelhubctl events model_selected,provider_error
`)
}

// --- HTTP helpers ---

func baseURL() string {
	if u := os.Getenv("MODELHUB_URL"); u != "" {
		return strings.TrimRight(u, "/")
	}
	return "http://localhost:8090"
}

func doRequest(method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, baseURL()+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return http.DefaultClient.Do(req)
}

func call(method, path, bodyJSON string) map[string]any {
	var body io.Reader
	if bodyJSON != "" {
		body = strings.NewReader(bodyJSON)
	}
	resp, err := doRequest(method, path, body)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	fatal(err)
	result, err := decodeResponse(resp.StatusCode, data)
	fatal(err)
	return result
}

// decodeResponse turns an API response into a JSON object. HTTP errors carry
// the server's error message.
func decodeResponse(status int, data []byte) (map[string]any, error) {
	if status >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("HTTP %d: %s", status, e.Error)
		}
		return nil, fmt.Errorf("HTTP %d: %s", status, strings.TrimSpace(string(data)))
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return result, nil
}

func prettyJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func fatal(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func requireArgs(args []string, min int, usage string) {
	if len(args) < min {
		fmt.Fprintf(os.Stderr, "usage: modelhubctl %s\n", usage)
		os.Exit(1)
	}
}

func parseLimit(args []string) int {
	for i, a := range args {
		if a == "--limit" && i+1 < len(args) {
			n, _ := strconv.Atoi(args[i+1])
			if n > 0 {
				return n
			}
		}
	}
	return 50
}

// --- Commands ---

func doStatus() {
	data := call("GET", "/healthz", "")
	fmt.Printf("Status:    %v\n", data["status"])
	fmt.Printf("Models:    %s\n", fmtNum(data["models"]))
	fmt.Printf("Providers: %s\n", fmtNum(data["providers"]))
}

func doHealth() {
	data := call("GET", "/admin/v1/stats", "")
	providers, _ := data["health"].([]any)
	if len(providers) == 0 {
		fmt.Println("No provider health data available.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PROVIDER\tSTATE\tREQUESTS\tERRORS\tAVG LATENCY\tLAST SUCCESS\tLAST ERROR")
	for _, p := range providers {
		m, ok := p.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["provider_id"].(string)
		state, _ := m["state"].(string)
		lastErr, _ := m["last_error"].(string)
		if len(lastErr) > 60 {
			lastErr = lastErr[:57] + "..."
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", id, state,
			fmtNum(m["total_requests"]), fmtNum(m["total_errors"]),
			fmtDuration(m["avg_latency_ms"]), fmtTime(m["last_success_at"]), lastErr)
	}
	_ = tw.Flush()
}

func doModels(args []string) {
	if len(args) == 0 || args[0] == "list" {
		data := call("GET", "/admin/v1/models", "")
		models, _ := data["models"].([]any)
		if len(models) == 0 {
			fmt.Println("No models registered.")
			return
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "ID\tPROVIDER\tMODEL\tPRIORITY\tLATENCY\t$/TOKEN\tSUCCESS\tACTIVE")
		for _, m := range models {
			mm, _ := m.(map[string]any)
			id, _ := mm["id"].(string)
			prov, _ := mm["provider"].(string)
			model, _ := mm["model_id"].(string)
			active := "yes"
			if mm["is_active"] == false {
				active = "no"
			}
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n", id, prov, model,
				fmtNum(mm["priority"]), fmtDuration(mm["avg_latency_ms"]),
				fmtCost(mm["cost_per_token"]), fmtNum(mm["success_rate"]), active)
		}
		_ = tw.Flush()
		return
	}

	switch args[0] {
	case "add":
		requireArgs(args, 2, "model add <json>")
		if call("POST", "/admin/v1/models", args[1])["ok"] == true {
			fmt.Println("Model saved.")
		}
	case "delete":
		requireArgs(args, 2, "model delete <id>")
		if call("DELETE", "/admin/v1/models/"+url.PathEscape(args[1]), "")["ok"] == true {
			fmt.Println("Model deleted.")
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown model command: %s\n", args[0])
		os.Exit(1)
	}
}

// selectBody merges module and task type into an optional JSON object of
// requirement overrides.
func selectBody(module, task, extra string) (string, error) {
	body := map[string]any{}
	if extra != "" {
		if err := json.Unmarshal([]byte(extra), &body); err != nil {
			return "", fmt.Errorf("invalid requirements json: %w", err)
		}
	}
	body["module"] = module
	if task != "" {
		body["task_type"] = task
	}
	b, err := json.Marshal(body)
	return string(b), err
}

func doSelect(args []string) {
	requireArgs(args, 1, "select <module> [task] [json]")
	var task, extra string
	if len(args) > 1 {
		task = args[1]
	}
	if len(args) > 2 {
		extra = args[2]
	}
	body, err := selectBody(args[0], task, extra)
	fatal(err)
	data := call("POST", "/v1/models/select", body)
	fmt.Println(prettyJSON(data))
}

func doOptimal(args []string) {
	body := "{}"
	if len(args) > 0 {
		body = args[0]
	}
	data := call("POST", "/v1/models/optimal", body)
	ranked, _ := data["models"].([]any)
	if len(ranked) == 0 {
		fmt.Println("No model meets the requirements.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "RANK\tID\tPROVIDER\tSCORE")
	for i, r := range ranked {
		entry, _ := r.(map[string]any)
		model, _ := entry["model"].(map[string]any)
		id, _ := model["id"].(string)
		prov, _ := model["provider"].(string)
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, id, prov, fmtNum(entry["score"]))
	}
	_ = tw.Flush()
}

func doModule(args []string) {
	requireArgs(args, 1, "module <name>")
	data := call("GET", "/v1/modules/"+url.PathEscape(args[0])+"/models", "")
	models, _ := data["models"].([]any)
	if len(models) == 0 {
		fmt.Printf("No models available to %s.\n", args[0])
		return
	}
	for i, m := range models {
		mm, _ := m.(map[string]any)
		fmt.Printf("%d. %v (%v)\n", i+1, mm["id"], mm["provider"])
	}
}

func doPrefs(args []string) {
	requireArgs(args, 3, "pref <set|delete> <module> <id> [score]")
	path := "/admin/v1/modules/" + url.PathEscape(args[1]) + "/preferences/" + url.PathEscape(args[2])
	switch args[0] {
	case "set":
		requireArgs(args, 4, "pref set <module> <id> <score>")
		score, err := strconv.ParseFloat(args[3], 64)
		fatal(err)
		call("PUT", path, fmt.Sprintf(`{"score":%g}`, score))
		fmt.Printf("Preference %s/%s set to %g.\n", args[1], args[2], score)
	case "delete":
		call("DELETE", path, "")
		fmt.Printf("Preference %s/%s removed.\n", args[1], args[2])
	default:
		fmt.Fprintf(os.Stderr, "unknown pref command: %s\n", args[0])
		os.Exit(1)
	}
}

func doPerf(args []string) {
	requireArgs(args, 1, "perf <id> [json]")
	id := url.PathEscape(args[0])
	if len(args) > 1 {
		call("POST", "/v1/models/"+id+"/performance", args[1])
		fmt.Println("Performance update accepted.")
		return
	}
	data := call("GET", "/admin/v1/models/"+id+"/performance", "")
	if cur, ok := data["current"]; ok {
		fmt.Printf("Current: %s\n\n", prettyJSON(cur))
	}
	history, _ := data["events"].([]any)
	if len(history) == 0 {
		fmt.Println("No performance history.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tLATENCY\tSUCCESS RATE\t$/TOKEN\tSUCCESS")
	for _, h := range history {
		m, _ := h.(map[string]any)
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%v\n", fmtTime(m["timestamp"]),
			fmtDuration(m["latency_ms"]), fmtNum(m["success_rate"]), fmtCost(m["cost_per_token"]), m["success"])
	}
	_ = tw.Flush()
}

func doLoad() {
	data := call("GET", "/v1/load-balancing", "")
	fmt.Printf("Active models: %s\n", fmtNum(data["total_active_models"]))
	providers, _ := data["providers"].([]any)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "PROVIDER\tMODELS\tSTATE\tSHARE\tAVG LATENCY")
	for _, p := range providers {
		m, _ := p.(map[string]any)
		models, _ := m["models"].([]any)
		share, _ := m["share"].(float64)
		_, _ = fmt.Fprintf(tw, "%v\t%d\t%v\t%.0f%%\t%s\n", m["provider"], len(models), m["state"],
			share*100, fmtDuration(m["avg_latency_ms"]))
	}
	_ = tw.Flush()
}

func doLogs(args []string) {
	data := call("GET", fmt.Sprintf("/admin/v1/requests?limit=%d", parseLimit(args)), "")
	logs, _ := data["requests"].([]any)
	if len(logs) == 0 {
		fmt.Println("No request logs.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tMODEL\tPROVIDER\tTOKENS\tLATENCY\tCOST\tSTATUS")
	for _, l := range logs {
		m, _ := l.(map[string]any)
		model, _ := m["model"].(string)
		prov, _ := m["provider_id"].(string)
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", fmtTime(m["timestamp"]), model, prov,
			fmtNum(m["total_tokens"]), fmtDuration(m["duration_ms"]), fmtCost(m["cost_usd"]), fmtNum(m["status_code"]))
	}
	_ = tw.Flush()
}

func doStats() {
	fmt.Println(prettyJSON(call("GET", "/admin/v1/stats", "")))
}

func doEvents(args []string) {
	path := "/admin/v1/events"
	if len(args) > 0 {
		path += "?types=" + url.QueryEscape(args[0])
	}
	req, err := http.NewRequest("GET", baseURL()+path, nil)
	fatal(err)
	resp, err := (&http.Client{}).Do(req)
	fatal(err)
	defer func() { _ = resp.Body.Close() }()

	fmt.Println("Streaming events (Ctrl-C to stop)...")
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			for _, line := range strings.Split(string(buf[:n]), "\n") {
				if out := formatEventLine(line); out != "" {
					fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05"), out)
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				fmt.Println("Event stream closed.")
			}
			break
		}
	}
}

// formatEventLine renders one SSE data line, or "" for anything else.
func formatEventLine(line string) string {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "data:") {
		return ""
	}
	var evt map[string]any
	if json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &evt) != nil {
		return ""
	}
	evtType, _ := evt["type"].(string)
	if evtType == "" {
		return ""
	}
	parts := []string{evtType}
	for _, k := range []string{"module", "task_type", "model_id", "provider_id", "reason", "error_msg"} {
		if v, ok := evt[k].(string); ok && v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	if v, ok := evt["latency_ms"]; ok {
		parts = append(parts, "latency="+fmtDuration(v))
	}
	if v, ok := evt["score"]; ok {
		parts = append(parts, "score="+fmtNum(v))
	}
	return strings.Join(parts, "  ")
}

// --- Formatting helpers ---

func fmtNum(v any) string {
	if v == nil {
		return "-"
	}
	switch n := v.(type) {
	case float64:
		if n == float64(int(n)) {
			return strconv.Itoa(int(n))
		}
		return strconv.FormatFloat(n, 'f', 2, 64)
	case int:
		return strconv.Itoa(n)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func fmtCost(v any) string {
	if v == nil {
		return "-"
	}
	if f, ok := v.(float64); ok {
		if f == 0 {
			return "free"
		}
		if f < 0.0001 {
			return fmt.Sprintf("$%.2e", f)
		}
		return fmt.Sprintf("$%.4f", f)
	}
	return fmt.Sprintf("%v", v)
}

func fmtDuration(v any) string {
	if v == nil {
		return "-"
	}
	if f, ok := v.(float64); ok {
		if f < 1000 {
			return fmt.Sprintf("%.0fms", f)
		}
		return fmt.Sprintf("%.1fs", f/1000)
	}
	return fmt.Sprintf("%v", v)
}

func fmtTime(v any) string {
	if v == nil {
		return "-"
	}
	if s, ok := v.(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.Local().Format("2006-01-02 15:04:05")
		}
		return s
	}
	return fmt.Sprintf("%v", v)
}

func init() {
	http.DefaultClient.Timeout = 30 * time.Second
}
