// Command experiment sweeps a matrix of executor settings. For each combo it
// seeds the queue when needed, launches ./cmd/runner with the combo's env,
// polls /stats into a JSONL trace until the tasks drain, then snapshots the
// relevant Prometheus series. Redis, Kafka and any http task target are
// expected to be running already.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
)

type combo struct {
	Driver    string
	Initial   int
	Max       int
	Interval  string
	Stability string
}

// dir names the combo's output bundle after its settings so a results tree
// stays readable without opening any file.
func (o combo) dir(root string) string {
	return filepath.Join(root,
		fmt.Sprintf("%s-i%d-m%d-ivl%s-stab%s",
			o.Driver, o.Initial, o.Max, pathSafe(o.Interval), pathSafe(o.Stability)))
}

// pathSafe strips or rewrites the runes in a setting value that would break
// a single path segment.
func pathSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ':':
			return -1
		case '/', ',':
			return '-'
		}
		return r
	}, s)
}

type matrix struct {
	PromURL     string
	BaseURL     string
	Count       int
	PollEvery   time.Duration
	MaxWait     time.Duration
	OutRoot     string
	DryRun      bool
	Drivers     []string
	Initials    []int
	Maxes       []int
	Intervals   []string
	Stabilities []string
	SeedMix     string
	ClearQueue  bool
}

func main() {
	m := parseArgs()
	run := runMatrix
	if m.DryRun {
		run = scaffold
	}
	if err := run(m); err != nil {
		log.Fatalf("experiment: %v", err)
	}
}

func parseArgs() matrix {
	var m matrix
	var drivers, initials, maxes, intervals, stabilities string

	flag.StringVar(&m.PromURL, "prom", "http://localhost:9090", "Prometheus address queried after each combo")
	flag.StringVar(&m.BaseURL, "base", "http://localhost:8090", "Runner ops base URL")
	flag.IntVar(&m.Count, "count", 2000, "Tasks per combo")
	flag.DurationVar(&m.PollEvery, "poll", 2*time.Second, "Stats poll interval")
	flag.DurationVar(&m.MaxWait, "max-wait", 5*time.Minute, "Per-combo wait cap")
	flag.StringVar(&m.OutRoot, "out", "results", "Root of the result bundle tree")
	flag.BoolVar(&m.DryRun, "dry-run", false, "Lay out the bundle tree and exit without launching anything")
	flag.StringVar(&drivers, "drivers", "synthetic", "Drivers CSV (synthetic|redis|kafka)")
	flag.StringVar(&initials, "initials", "2,5", "Initial concurrency CSV")
	flag.StringVar(&maxes, "maxes", "32,64", "Max concurrency CSV")
	flag.StringVar(&intervals, "intervals", "500ms,1s", "Adaptation intervals CSV")
	flag.StringVar(&stabilities, "stabilities", "2,3", "Stability windows CSV")
	flag.StringVar(&m.SeedMix, "seed-mix", "", "Kind mix forwarded to the queue seeder")
	flag.BoolVar(&m.ClearQueue, "clear-queue", true, "Delete the Redis task queue before each redis combo")

	flag.Parse()

	m.Drivers = csvList(drivers)
	m.Initials = csvInts(initials)
	m.Maxes = csvInts(maxes)
	m.Intervals = csvList(intervals)
	m.Stabilities = csvList(stabilities)
	return m
}

func csvList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func csvInts(s string) []int {
	var out []int
	for _, part := range csvList(s) {
		if n, err := strconv.Atoi(part); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// combos expands the flag matrix into the full cross product.
func combos(m matrix) []combo {
	var out []combo
	for _, drv := range m.Drivers {
		for _, ini := range m.Initials {
			for _, mx := range m.Maxes {
				for _, ivl := range m.Intervals {
					for _, stab := range m.Stabilities {
						out = append(out, combo{
							Driver: drv, Initial: ini,
							Max: mx, Interval: ivl, Stability: stab,
						})
					}
				}
			}
		}
	}
	return out
}

func runMatrix(m matrix) error {
	root := filepath.Join(m.OutRoot, time.Now().UTC().Format("20060102_150405Z"))
	if err := os.MkdirAll(root, 0o750); err != nil {
		return fmt.Errorf("create results root: %w", err)
	}
	if err := checkOpsPortFree(); err != nil {
		return err
	}
	for _, o := range combos(m) {
		if err := runCombo(m, root, o); err != nil {
			return err
		}
	}
	return nil
}

func scaffold(m matrix) error {
	root := filepath.Join(m.OutRoot, time.Now().UTC().Format("20060102_150405Z"))
	for _, o := range combos(m) {
		if err := os.MkdirAll(o.dir(root), 0o750); err != nil {
			return fmt.Errorf("create bundle dir: %w", err)
		}
	}
	fmt.Println("scaffolded", root)
	return nil
}

func runCombo(m matrix, root string, o combo) error {
	dir := o.dir(root)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create bundle dir: %w", err)
	}

	if m.ClearQueue && o.Driver == "redis" {
		if err := clearQueue(); err != nil {
			return fmt.Errorf("clear queue before driver=%s: %w", o.Driver, err)
		}
	}
	if o.Driver == "redis" || o.Driver == "kafka" {
		if err := seedQueue(m, dir, o.Driver); err != nil {
			return fmt.Errorf("seed %s queue: %w", o.Driver, err)
		}
	}

	// exec.Cmd keeps the last value for a duplicated env key, so appending
	// the combo's settings overrides whatever the parent shell exported.
	app := exec.Command("go", "run", "./cmd/runner")
	app.Env = append(os.Environ(),
		"DRIVER="+o.Driver,
		"INITIAL_CONCURRENCY="+strconv.Itoa(o.Initial),
		"MAX_CONCURRENCY="+strconv.Itoa(o.Max),
		"ADAPTATION_INTERVAL="+o.Interval,
		"STABILITY_WINDOW="+o.Stability,
		"SYNTH_COUNT="+strconv.Itoa(m.Count),
		"STATS_INTERVAL=2s",
		"CONTINUE_ON_ERROR=true",
	)
	app.Stdout = openLog(filepath.Join(dir, "runner.stdout.log"))
	app.Stderr = openLog(filepath.Join(dir, "runner.stderr.log"))
	app.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := app.Start(); err != nil {
		return fmt.Errorf("start runner: %w", err)
	}
	defer stopGroup(app)

	cli := &http.Client{Timeout: 5 * time.Second}
	if err := waitReady(cli, m.BaseURL+"/healthz", 30*time.Second); err != nil {
		return fmt.Errorf("runner not ready: %w", err)
	}

	start := time.Now().UTC()
	if err := pollStats(cli, m, dir); err != nil {
		return fmt.Errorf("poll stats: %w", err)
	}
	end := time.Now().UTC()

	if err := snapshotProm(cli, m.PromURL, dir, o, start, end); err != nil {
		_ = os.WriteFile(filepath.Join(dir, "prom_error.txt"),
			[]byte(err.Error()), 0o600)
	}
	return nil
}

// stopGroup kills the runner and everything `go run` spawned under it.
// Killing only app.Process would orphan the compiled child binary.
func stopGroup(app *exec.Cmd) {
	if app.Process == nil {
		return
	}
	if pgid, err := syscall.Getpgid(app.Process.Pid); err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	} else {
		_ = app.Process.Kill()
	}
	_ = app.Wait()
}

func seedQueue(m matrix, dir, driver string) error {
	args := []string{"run", "./cmd/loadgen", "-driver", driver, "-count", strconv.Itoa(m.Count)}
	if strings.TrimSpace(m.SeedMix) != "" {
		args = append(args, "-mix", m.SeedMix)
	}
	// #nosec G204 -- argv is assembled from parsed flags for a fixed binary.
	seed := exec.Command("go", args...)
	seed.Stdout = openLog(filepath.Join(dir, "seed.stdout.log"))
	seed.Stderr = openLog(filepath.Join(dir, "seed.stderr.log"))
	return seed.Run()
}

func waitReady(cli *http.Client, readyURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := cli.Get(readyURL)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	return errors.New("timeout waiting for readiness")
}

// pollStats appends one line per sample to stats.jsonl and returns when the
// combo's task budget has been observed or the wait cap passes.
func pollStats(cli *http.Client, m matrix, dir string) error {
	f, err := os.Create(filepath.Clean(filepath.Join(dir, "stats.jsonl")))
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	statsURL := strings.TrimRight(m.BaseURL, "/") + "/stats"

	type progress struct {
		Completed uint64 `json:"total_completed"`
		Failures  int64  `json:"total_failures"`
	}

	enc := json.NewEncoder(f)
	deadline := time.Now().Add(m.MaxWait)
	for time.Now().Before(deadline) {
		raw, err := getJSON(cli, statsURL)
		if err != nil {
			time.Sleep(m.PollEvery)
			continue
		}

		_ = enc.Encode(struct {
			T     time.Time       `json:"t"`
			Stats json.RawMessage `json:"stats"`
		}{T: time.Now().UTC(), Stats: raw})

		var p progress
		if json.Unmarshal(raw, &p) == nil && p.Completed+uint64(max(p.Failures, 0)) >= uint64(m.Count) {
			return nil
		}
		time.Sleep(m.PollEvery)
	}
	return errors.New("timeout waiting for tasks to drain")
}

func getJSON(cli *http.Client, u string) (json.RawMessage, error) {
	resp, err := cli.Get(u)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func openLog(path string) *os.File {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		log.Fatalf("create %s: %v", path, err)
	}
	return f
}

// snapshotProm evaluates the combo's summary queries over [start, end] and
// writes both the query list and the answers into the bundle.
func snapshotProm(cli *http.Client, base, dir string, o combo, start, end time.Time) error {
	base = strings.TrimRight(base, "/")
	w := int(end.Sub(start).Round(time.Second).Seconds())
	drv := o.Driver

	exprs := []struct{ name, expr string }{
		{"concurrency_avg", fmt.Sprintf(`avg_over_time(executor_concurrency{driver=%q}[%ds])`, drv, w)},
		{"concurrency_max", fmt.Sprintf(`max_over_time(executor_concurrency{driver=%q}[%ds])`, drv, w)},
		{"tasks_completed", fmt.Sprintf(`sum(increase(executor_tasks_completed_total{driver=%q}[%ds]))`, drv, w)},
		{"task_failures", fmt.Sprintf(`sum(increase(executor_task_failures_total{driver=%q}[%ds]))`, drv, w)},
		{"adaptations_by_direction", fmt.Sprintf(`sum by (direction) (increase(executor_adaptations_total{driver=%q}[%ds]))`, drv, w)},
		{"results_by_outcome", fmt.Sprintf(`sum by (outcome) (increase(task_results_total[%ds]))`, w)},
		{"queue_pull_p95_s", fmt.Sprintf(`histogram_quantile(0.95, sum by (le) (increase(queue_pull_duration_seconds_bucket[%ds])))`, w)},
	}

	type namedQuery struct {
		Name string `json:"name"`
		Expr string `json:"expr"`
		URL  string `json:"url"`
	}
	queries := make([]namedQuery, 0, len(exprs))
	for _, e := range exprs {
		v := url.Values{}
		v.Set("query", e.expr)
		queries = append(queries, namedQuery{
			Name: e.name,
			Expr: e.expr,
			URL:  base + "/api/v1/query?" + v.Encode(),
		})
	}
	qb, _ := json.MarshalIndent(queries, "", "  ")
	_ = os.WriteFile(filepath.Join(dir, "queries.json"), qb, 0o600)

	type promResp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  string          `json:"error,omitempty"`
	}

	answers := make(map[string]json.RawMessage, len(queries))
	for _, q := range queries {
		resp, err := cli.Get(q.URL)
		if err != nil {
			return fmt.Errorf("prom query %s: %w", q.Name, err)
		}
		var rr promResp
		decErr := json.NewDecoder(resp.Body).Decode(&rr)
		_ = resp.Body.Close()
		if decErr != nil || rr.Status != "success" {
			answers[q.Name] = json.RawMessage(fmt.Sprintf(`{"error": %q}`, rr.Error))
			continue
		}
		answers[q.Name] = rr.Data
	}
	ab, _ := json.MarshalIndent(answers, "", "  ")
	if err := os.WriteFile(filepath.Join(dir, "prom_snapshot.json"), ab, 0o600); err != nil {
		return fmt.Errorf("write prom_snapshot.json: %w", err)
	}
	return nil
}

func checkOpsPortFree() error {
	addr := envOr("ADDR", ":8090")
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("ops port %s busy: %w", addr, err)
	}
	_ = ln.Close()
	return nil
}

// clearQueue drops the pending task list so a combo starts from a clean
// queue instead of inheriting leftovers from the previous run.
func clearQueue() error {
	rdb := redis.NewClient(&redis.Options{Addr: envOr("REDIS_ADDR", "localhost:6379")})
	defer func() { _ = rdb.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	queue := envOr("REDIS_QUEUE", "flowtune:tasks")
	if err := rdb.Del(ctx, queue).Err(); err != nil {
		return fmt.Errorf("del %s: %w", queue, err)
	}
	return nil
}

func envOr(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}
