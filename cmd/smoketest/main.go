// Command smoketest exercises the virtual trade API end to end against a
// running server: reachability, ingestion of three hand-authored signals,
// filtered queries and status/side tallies. Unlike its console-only
// predecessor it asserts on every step and exits non-zero on failure.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/signal-tracker/pkg/token"
)

var (
	baseURL      = flag.String("base", "http://localhost:8080", "server base URL")
	writerSecret = flag.String("writer-secret", "", "writer secret for the update check (optional)")
)

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Count     *int            `json:"count"`
	Timestamp int64           `json:"timestamp"`
	Error     string          `json:"error"`
}

type tradeRow struct {
	ID         string   `json:"id"`
	Symbol     string   `json:"symbol"`
	Side       string   `json:"side"`
	Status     string   `json:"status"`
	StrategyID string   `json:"strategy_id"`
	EntryMin   *float64 `json:"entry_min"`
	EntryMax   *float64 `json:"entry_max"`
	Leverage   int      `json:"leverage"`
	MarginUSD  float64  `json:"margin_usd"`
	Version    int      `json:"version"`
}

var failures int

func failf(format string, args ...interface{}) {
	failures++
	log.Printf("FAIL: "+format, args...)
}

func okf(format string, args ...interface{}) {
	log.Printf("ok: "+format, args...)
}

func main() {
	flag.Parse()
	client := &http.Client{Timeout: 10 * time.Second}

	// 1. Reachability
	env, status := get(client, "/api/virtual-trades?limit=1")
	if status != http.StatusOK || !env.Success {
		log.Fatalf("server unreachable or store unavailable: status=%d error=%s", status, env.Error)
	}
	okf("query endpoint reachable")

	// 2. Ingest three signals
	ygg := submit(client, map[string]interface{}{
		"symbol": "YGGUSDT", "side": "LONG",
		"entryMin": 0.62, "entryMax": 0.635,
		"tp1": 0.685, "tp2": 0.72, "sl": 0.595,
	})
	btc := submit(client, map[string]interface{}{
		"symbol": "BTCUSDT", "side": "SHORT", "entryType": "exact",
		"entryMin": 115500, "entryMax": 115500,
		"tp1": 114200, "sl": 116800,
	})
	eth := submit(client, map[string]interface{}{
		"symbol": "ETHUSDT", "side": "LONG",
		"entryMin": 4150, "entryMax": 4220,
		"tp1": 4400, "tp2": 4550, "tp3": 4700, "sl": 3980,
	})

	if ygg != nil {
		if ygg.Status != "sim_open" {
			failf("YGG status = %s, want sim_open", ygg.Status)
		}
		if ygg.StrategyID != "S_A_TP1_BE_TP2" {
			failf("YGG strategy_id = %s, want S_A_TP1_BE_TP2", ygg.StrategyID)
		}
		if ygg.Leverage != 15 || ygg.MarginUSD != 100 {
			failf("YGG defaults: leverage=%d margin=%v, want 15/100", ygg.Leverage, ygg.MarginUSD)
		}
	}
	if btc != nil {
		if btc.EntryMin == nil || btc.EntryMax == nil || *btc.EntryMin != 115500 || *btc.EntryMax != 115500 {
			failf("BTC exact entry not collapsed to 115500")
		}
	}

	// 3. Default status filter contains the new trades
	env, _ = get(client, "/api/virtual-trades?status=sim_open&limit=500")
	openRows := decodeRows(env)
	for _, created := range []*tradeRow{ygg, btc, eth} {
		if created == nil {
			continue
		}
		if !containsID(openRows, created.ID) {
			failf("trade %s (%s) missing from sim_open listing", created.ID, created.Symbol)
		}
	}
	okf("sim_open listing contains all three submissions")

	// 4. Symbol filter is case-insensitive
	upper, _ := get(client, "/api/virtual-trades?symbol=YGGUSDT&status=all&limit=500")
	lower, _ := get(client, "/api/virtual-trades?symbol=yggusdt&status=all&limit=500")
	if !bytes.Equal(upper.Data, lower.Data) {
		failf("symbol filter differs between upper and lower case")
	} else {
		okf("symbol filter is case-insensitive")
	}

	// 5. Unfiltered tallies
	env, _ = get(client, "/api/virtual-trades?status=all&limit=500")
	rows := decodeRows(env)
	byStatus := map[string]int{}
	bySide := map[string]int{}
	for _, r := range rows {
		byStatus[r.Status]++
		bySide[r.Side]++
	}
	okf("tallies: %d trades, by status %v, by side %v", len(rows), byStatus, bySide)
	if env.Count == nil || *env.Count != len(rows) {
		failf("count field does not match returned rows")
	}

	// 6. Optional: exercise the mutation path
	if *writerSecret != "" && ygg != nil {
		tok, err := token.Sign(*writerSecret, "smoketest", 5*time.Minute)
		if err != nil {
			failf("mint writer token: %v", err)
		} else {
			updated := update(client, tok, map[string]interface{}{
				"id": ygg.ID, "version": ygg.Version,
				"status": "sim_closed", "sl_hit": true,
			})
			if updated != nil && updated.Status != "sim_closed" {
				failf("update did not close trade %s", ygg.ID)
			} else if updated != nil {
				okf("mutation path closed trade %s (version %d)", updated.ID, updated.Version)
			}
		}
	}

	if failures > 0 {
		log.Printf("%d check(s) failed", failures)
		os.Exit(1)
	}
	log.Println("all checks passed")
}

func get(client *http.Client, path string) (envelope, int) {
	resp, err := client.Get(*baseURL + path)
	if err != nil {
		log.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	return decodeEnvelope(resp), resp.StatusCode
}

func submit(client *http.Client, payload map[string]interface{}) *tradeRow {
	body, _ := json.Marshal(payload)
	resp, err := client.Post(*baseURL+"/api/virtual-trades", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("POST /api/virtual-trades: %v", err)
	}
	defer resp.Body.Close()

	env := decodeEnvelope(resp)
	if resp.StatusCode != http.StatusOK || !env.Success {
		failf("submit %v: status=%d error=%s", payload["symbol"], resp.StatusCode, env.Error)
		return nil
	}

	var row tradeRow
	if err := json.Unmarshal(env.Data, &row); err != nil {
		failf("submit %v: decode row: %v", payload["symbol"], err)
		return nil
	}
	okf("submitted %s %s -> id=%s", row.Symbol, row.Side, row.ID)
	return &row
}

func update(client *http.Client, bearer string, payload map[string]interface{}) *tradeRow {
	body, _ := json.Marshal(payload)
	req, _ := http.NewRequest(http.MethodPut, *baseURL+"/api/virtual-trades", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("PUT /api/virtual-trades: %v", err)
	}
	defer resp.Body.Close()

	env := decodeEnvelope(resp)
	if resp.StatusCode != http.StatusOK || !env.Success {
		failf("update %v: status=%d error=%s", payload["id"], resp.StatusCode, env.Error)
		return nil
	}

	var row tradeRow
	if err := json.Unmarshal(env.Data, &row); err != nil {
		failf("update: decode row: %v", err)
		return nil
	}
	return &row
}

func decodeEnvelope(resp *http.Response) envelope {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("read response: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Fatalf("decode response %q: %v", string(raw), err)
	}
	return env
}

func decodeRows(env envelope) []tradeRow {
	var rows []tradeRow
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		failf("decode rows: %v", err)
	}
	return rows
}

func containsID(rows []tradeRow, id string) bool {
	for _, r := range rows {
		if r.ID == id {
			return true
		}
	}
	return false
}
