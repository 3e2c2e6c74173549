package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemaflow/internal/config"
	internaldb "schemaflow/internal/db"
	"schemaflow/internal/db/repository"
	"schemaflow/internal/declarative"
	"schemaflow/internal/domain"
	"schemaflow/internal/service/discovery"
	"schemaflow/internal/service/drift"
	"schemaflow/internal/service/intake"
	"schemaflow/internal/service/materialize"
	"schemaflow/internal/service/registry"
	"schemaflow/internal/service/rules"
)

func setupServer(t *testing.T) *httptest.Server {
	t.Helper()
	writeDB, readDB := internaldb.OpenTestSQLite(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sources := repository.NewSourceRepo(writeDB, readDB)
	records := repository.NewRawRecordRepo(writeDB, readDB)
	fields := repository.NewDiscoveredFieldRepo(writeDB, readDB)
	targets := repository.NewTargetRepo(writeDB, readDB)
	rulesRepo := repository.NewRuleRepo(writeDB, readDB)
	changes := repository.NewSchemaChangeRepo(writeDB, readDB)
	runs := repository.NewRunRepo(writeDB, readDB)
	store := repository.NewCanonicalStore(writeDB, readDB)

	reg := registry.NewService(sources, targets, fields, records, store, logger)
	disc := discovery.NewService(fields, 500, logger)
	intakeSvc := intake.NewService(sources, records, disc, logger)
	detector := drift.NewDetector(sources, fields, changes, records, disc, 1, 50, logger)
	ruleSvc := rules.NewService(sources, rulesRepo, fields, targets, records, store, 50, logger)
	mat := materialize.NewService(sources, records, rulesRepo, targets, runs, store, 100, logger)
	applier := declarative.NewApplier(sources, reg, ruleSvc, logger)

	h := NewHandler(reg, intakeSvc, detector, ruleSvc, mat, applier, logger)
	cfg := &config.Config{
		CORSAllowedOrigins: []string{"*"},
		RateLimitRPS:       1000,
		RateLimitBurst:     1000,
	}
	srv := httptest.NewServer(h.Routes(cfg))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, srv *httptest.Server, method, path string, body any, wantStatus int) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequestWithContext(context.Background(), method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	dec := json.NewDecoder(resp.Body)
	if dec.More() {
		require.NoError(t, dec.Decode(&out))
	}
	require.Equal(t, wantStatus, resp.StatusCode, "unexpected status for %s %s: %v", method, path, out)
	return out
}

func TestAPI_EndToEndFlow(t *testing.T) {
	t.Parallel()
	srv := setupServer(t)

	// Register a source.
	src := doJSON(t, srv, http.MethodPost, "/v1/sources",
		map[string]any{"name": "crm", "type": "webhook", "origin": "https://crm.example.com"},
		http.StatusCreated)
	sourceID := src["id"].(string)
	require.NotEmpty(t, sourceID)
	assert.Equal(t, "active", src["status"])

	// Ingest records with variant spellings of the same field.
	payloads := []string{
		`{"email": "a@x.com", "name": "Ada"}`,
		`{"email_address": "b@x.com", "name": "Grace"}`,
	}
	for i, p := range payloads {
		res := doJSON(t, srv, http.MethodPost, "/v1/ingest", map[string]any{
			"source_id":    sourceID,
			"external_ref": fmt.Sprintf("evt-%d", i),
			"payload":      json.RawMessage(p),
		}, http.StatusAccepted)
		assert.NotEmpty(t, res["record_id"])
		assert.NotEmpty(t, res["fingerprint"])
	}

	// Discovery already surfaced the fields.
	fieldsResp := doJSON(t, srv, http.MethodGet, "/v1/sources/"+sourceID+"/fields", nil, http.StatusOK)
	items := fieldsResp["items"].([]any)
	paths := make(map[string]bool)
	for _, it := range items {
		paths[it.(map[string]any)["field_path"].(string)] = true
	}
	assert.True(t, paths["$.email"])
	assert.True(t, paths["$.email_address"])
	assert.True(t, paths["$.name"])

	// Shape stats: two distinct fingerprints.
	shapes := doJSON(t, srv, http.MethodGet, "/v1/sources/"+sourceID+"/shapes", nil, http.StatusOK)
	assert.Len(t, shapes["shapes"].([]any), 2)

	// Declare the canonical target and the coalescing rules.
	doJSON(t, srv, http.MethodPost, "/v1/targets",
		map[string]any{"table": "members", "natural_key": "email"}, http.StatusCreated)

	rule := doJSON(t, srv, http.MethodPost, "/v1/rules", map[string]any{
		"source_id":     sourceID,
		"candidates":    []string{"$.email", "$.email_address"},
		"target_table":  "members",
		"target_column": "email",
		"transform":     "lower",
		"validation":    map[string]any{"format": "email"},
	}, http.StatusCreated)
	ruleID := rule["id"].(string)
	assert.EqualValues(t, 1, rule["version"])

	doJSON(t, srv, http.MethodPost, "/v1/rules", map[string]any{
		"source_id":     sourceID,
		"candidates":    []string{"$.name"},
		"target_table":  "members",
		"target_column": "full_name",
	}, http.StatusCreated)

	// Dry-run a proposal without writing anything.
	report := doJSON(t, srv, http.MethodPost, "/v1/rules/dry-run", map[string]any{
		"rule": map[string]any{
			"source_id":     sourceID,
			"candidates":    []string{"$.email", "$.email_address"},
			"target_table":  "members",
			"target_column": "email",
		},
	}, http.StatusOK)
	assert.EqualValues(t, 2, report["sampled"])
	assert.EqualValues(t, 2, report["resolvable"])

	// Materialize and confirm both records landed.
	summary := doJSON(t, srv, http.MethodPost, "/v1/sources/"+sourceID+"/materialize", nil, http.StatusOK)
	assert.EqualValues(t, 2, summary["resolved"])
	assert.EqualValues(t, 0, summary["failed"])
	assert.NotEmpty(t, summary["run_id"])

	// The run log records the completed run with its rule-set snapshot.
	runsResp := doJSON(t, srv, http.MethodGet, "/v1/sources/"+sourceID+"/runs", nil, http.StatusOK)
	assert.EqualValues(t, 1, runsResp["total"])
	runItems := runsResp["items"].([]any)
	require.Len(t, runItems, 1)
	firstRun := runItems[0].(map[string]any)
	assert.Equal(t, summary["run_id"], firstRun["id"])
	assert.Equal(t, "completed", firstRun["status"])
	assert.NotEmpty(t, firstRun["rule_set_hash"])

	// Revise the email rule: version 2 becomes the active one.
	revised := doJSON(t, srv, http.MethodPut, "/v1/rules/"+ruleID, map[string]any{
		"source_id":     sourceID,
		"candidates":    []string{"$.email", "$.email_address", "$.contact.email"},
		"target_table":  "members",
		"target_column": "email",
		"transform":     "lower",
		"validation":    map[string]any{"format": "email"},
	}, http.StatusOK)
	assert.EqualValues(t, 2, revised["version"])
	assert.Equal(t, ruleID, revised["supersedes_id"])

	rulesList := doJSON(t, srv, http.MethodGet, "/v1/rules?source_id="+sourceID, nil, http.StatusOK)
	assert.EqualValues(t, 3, rulesList["total"])

	// Drift review: a forced check reports the unconfirmed fields.
	checked := doJSON(t, srv, http.MethodPost, "/v1/sources/"+sourceID+"/check", nil, http.StatusOK)
	assert.NotZero(t, checked["events_emitted"])

	changes := doJSON(t, srv, http.MethodGet, "/v1/sources/"+sourceID+"/changes", nil, http.StatusOK)
	changeItems := changes["items"].([]any)
	require.NotEmpty(t, changeItems)
	first := changeItems[0].(map[string]any)
	assert.Equal(t, "field_added", first["change_type"])
	assert.Equal(t, "pending", first["review_status"])

	reviewed := doJSON(t, srv, http.MethodPost, "/v1/changes/"+first["id"].(string)+"/review",
		map[string]any{"action": "acknowledge"}, http.StatusOK)
	assert.Equal(t, "acknowledged", reviewed["review_status"])
}

func TestAPI_ErrorStatusMapping(t *testing.T) {
	t.Parallel()
	srv := setupServer(t)

	// Unknown resource → 404.
	body := doJSON(t, srv, http.MethodGet, "/v1/sources/"+domain.NewID(), nil, http.StatusNotFound)
	assert.NotEmpty(t, body["message"])

	// Invalid input → 400.
	doJSON(t, srv, http.MethodPost, "/v1/sources", map[string]any{"type": "webhook"},
		http.StatusBadRequest)

	// Unknown body fields → 400.
	doJSON(t, srv, http.MethodPost, "/v1/sources",
		map[string]any{"name": "x", "type": "webhook", "bogus": true}, http.StatusBadRequest)

	// Duplicate name → 409.
	doJSON(t, srv, http.MethodPost, "/v1/sources",
		map[string]any{"name": "dup", "type": "webhook"}, http.StatusCreated)
	doJSON(t, srv, http.MethodPost, "/v1/sources",
		map[string]any{"name": "dup", "type": "webhook"}, http.StatusConflict)

	// Listing rules without a source is a caller error.
	doJSON(t, srv, http.MethodGet, "/v1/rules", nil, http.StatusBadRequest)
}

func TestAPI_ApplyManifest(t *testing.T) {
	t.Parallel()
	srv := setupServer(t)

	manifest := strings.TrimSpace(`
apiVersion: schemaflow/v1
sources:
  - name: billing
    type: sftp
targets:
  - table: accounts
    natural_key: account_no
rules:
  - source: billing
    candidates: ["$.account", "$.account_number"]
    target_table: accounts
    target_column: account_no
`)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost,
		srv.URL+"/v1/apply", strings.NewReader(manifest))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/yaml")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.EqualValues(t, 1, result["sources_created"])
	assert.EqualValues(t, 1, result["targets_created"])
	assert.EqualValues(t, 1, result["rules_created"])

	// Health never requires a version prefix.
	health := doJSON(t, srv, http.MethodGet, "/healthz", nil, http.StatusOK)
	assert.Equal(t, "ok", health["status"])
}

func TestAPI_PausedSourceRejectsIngest(t *testing.T) {
	t.Parallel()
	srv := setupServer(t)

	src := doJSON(t, srv, http.MethodPost, "/v1/sources",
		map[string]any{"name": "s1", "type": "webhook"}, http.StatusCreated)
	id := src["id"].(string)

	updated := doJSON(t, srv, http.MethodPost, "/v1/sources/"+id+"/status",
		map[string]any{"status": "paused"}, http.StatusOK)
	assert.Equal(t, "paused", updated["status"])

	doJSON(t, srv, http.MethodPost, "/v1/ingest", map[string]any{
		"source_id": id,
		"payload":   json.RawMessage(`{"a": 1}`),
	}, http.StatusBadRequest)
}
